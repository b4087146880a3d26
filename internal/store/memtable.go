package store

import (
	"sync"
	"time"

	"github.com/loganszeto/phoenixkv/internal/util"
)

var _ Store = (*MemTable)(nil)

type Options struct {
	Clock util.Clock
}

// MemTable guards the whole table with one RWMutex. Readers share the lock;
// every writer, including a sweep, holds it exclusively.
type MemTable struct {
	mu    sync.RWMutex
	m     map[string]Entry
	clock util.Clock
}

func NewStore(opts Options) *MemTable {
	return &MemTable{
		m:     make(map[string]Entry),
		clock: util.OrReal(opts.Clock),
	}
}

// Get hides entries whose expiry has passed even if the reaper has not run yet.
func (t *MemTable) Get(key string) (Entry, bool) {
	now := t.clock.Now()
	t.mu.RLock()
	ent, ok := t.m[key]
	t.mu.RUnlock()
	if !ok || ent.Expired(now) {
		return Entry{}, false
	}
	return ent.clone(), true
}

func (t *MemTable) Set(key string, ent Entry) {
	ent = ent.clone()
	t.mu.Lock()
	t.m[key] = ent
	t.mu.Unlock()
}

func (t *MemTable) Delete(key string) bool {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	ent, ok := t.m[key]
	if !ok {
		return false
	}
	delete(t.m, key)
	return !ent.Expired(now)
}

// GetMany returns one slot per key, nil where the key is absent.
func (t *MemTable) GetMany(keys []string) []*Entry {
	now := t.clock.Now()
	out := make([]*Entry, len(keys))
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, k := range keys {
		ent, ok := t.m[k]
		if !ok || ent.Expired(now) {
			continue
		}
		c := ent.clone()
		out[i] = &c
	}
	return out
}

// SetMany merges a fully built batch under a single lock acquisition.
func (t *MemTable) SetMany(batch map[string]Entry) {
	staged := make(map[string]Entry, len(batch))
	for k, ent := range batch {
		staged[k] = ent.clone()
	}
	t.mu.Lock()
	for k, ent := range staged {
		t.m[k] = ent
	}
	t.mu.Unlock()
}

// DeleteMany removes every listed key and returns, in input order, the keys
// that were present.
func (t *MemTable) DeleteMany(keys []string) []string {
	now := t.clock.Now()
	out := make([]string, 0, len(keys))
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		ent, ok := t.m[k]
		if !ok {
			continue
		}
		delete(t.m, k)
		if !ent.Expired(now) {
			out = append(out, k)
		}
	}
	return out
}

// Len counts every entry in the table, including expired entries the reaper
// has not removed yet.
func (t *MemTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// Sweep removes every entry with expiresAt <= now. It scans the whole table.
func (t *MemTable) Sweep(now time.Time) int {
	removed := 0
	t.mu.Lock()
	for k, ent := range t.m {
		if ent.Expired(now) {
			delete(t.m, k)
			removed++
		}
	}
	t.mu.Unlock()
	return removed
}
