// Package reaper evicts expired entries from a store on a fixed interval.
//
// Every sweep is a full linear scan under the store's exclusive lock, so the
// cost of a tick grows with the table size and briefly stalls readers. A
// min-heap of upcoming expirations would avoid the scan at the price of extra
// bookkeeping on every insert.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loganszeto/phoenixkv/internal/stats"
	"github.com/loganszeto/phoenixkv/internal/util"
)

const DefaultInterval = 60 * time.Second

var ErrAlreadyRunning = errors.New("reaper already running")

// Sweeper removes every entry whose expiry is at or before now and reports
// how many it removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

type Options struct {
	Interval time.Duration
	Clock    util.Clock
	Logger   *slog.Logger
	Stats    *stats.Stats
}

type Reaper struct {
	st       Sweeper
	interval time.Duration
	clock    util.Clock
	logger   *slog.Logger
	stats    *stats.Stats
	running  atomic.Bool
}

func New(st Sweeper, opts Options) *Reaper {
	r := &Reaper{
		st:       st,
		interval: opts.Interval,
		clock:    util.OrReal(opts.Clock),
		logger:   opts.Logger,
		stats:    opts.Stats,
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.stats == nil {
		r.stats = stats.New()
	}
	return r
}

func (r *Reaper) Interval() time.Duration {
	return r.interval
}

// Run sweeps on every tick until ctx is done. Only one Run may be active at a
// time.
func (r *Reaper) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one eviction pass. A panic in the store is logged and swallowed.
func (r *Reaper) Sweep() (removed int) {
	defer func() {
		if p := recover(); p != nil {
			r.stats.RecordError()
			r.logger.Error("reaper sweep panicked", "panic", p)
			removed = 0
		}
	}()

	now := r.clock.Now()
	start := time.Now()
	removed = r.st.Sweep(now)
	if removed > 0 {
		r.stats.RecordExpired(removed)
	}
	r.logger.Debug("reaper sweep", "removed", removed, "took", time.Since(start))
	return removed
}
