package stats

import "sync/atomic"

type Stats struct {
	inserts     atomic.Int64
	lookups     atomic.Int64
	deletes     atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	errors      atomic.Int64
	expired     atomic.Int64
	connections atomic.Int64
}

func New() *Stats {
	return &Stats{}
}

// RecordInsert counts n written entries.
func (s *Stats) RecordInsert(n int) {
	s.inserts.Add(int64(n))
}

func (s *Stats) RecordLookup(hit bool) {
	s.lookups.Add(1)
	if hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
}

func (s *Stats) RecordDelete(n int) {
	s.deletes.Add(int64(n))
}

func (s *Stats) RecordError() {
	s.errors.Add(1)
}

func (s *Stats) RecordExpired(n int) {
	s.expired.Add(int64(n))
}

// ConnOpened and ConnClosed track live connections across transports.
func (s *Stats) ConnOpened() {
	s.connections.Add(1)
}

func (s *Stats) ConnClosed() {
	s.connections.Add(-1)
}

func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"inserts":     s.inserts.Load(),
		"lookups":     s.lookups.Load(),
		"deletes":     s.deletes.Load(),
		"hits":        s.hits.Load(),
		"misses":      s.misses.Load(),
		"errors":      s.errors.Load(),
		"expired":     s.expired.Load(),
		"connections": s.connections.Load(),
	}
}
