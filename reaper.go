package outboxd

import (
	"context"
	"log/slog"
	"time"

	"github.com/bravellian/outboxd/internal"
)

// ReaperConfig tunes a Reaper.
type ReaperConfig struct {
	Interval time.Duration
	Provider StoreProvider
	Logger   *slog.Logger
}

// Reaper periodically calls Store.ReapExpired on every store a
// provider reports, recovering work items whose owning worker died
// mid-lease without incrementing AttemptCount (spec.md §4.1: a lease
// expiry is infrastructure, not a handler failure).
//
// Grounded on the teacher's clean_worker.go/cleaner.go cadence
// structure, retargeted from retention-sweep deletion to lease
// recovery; Reaper and CleanupWorker are kept as separate loops
// because they run on independent cadences and act on disjoint row
// sets (Processing-with-expired-lease vs. terminal-and-old).
type Reaper struct {
	lcBase

	cfg   ReaperConfig
	timer internal.TimerTask
}

func NewReaper(cfg ReaperConfig) *Reaper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	return &Reaper{cfg: cfg}
}

func (r *Reaper) Start(ctx context.Context) error {
	if err := r.tryStart(); err != nil {
		return err
	}
	r.timer.Start(ctx, r.tick, r.cfg.Interval)
	return nil
}

func (r *Reaper) Stop(timeout time.Duration) error {
	return r.tryStop(timeout, func() <-chan struct{} {
		return r.timer.Stop()
	})
}

func (r *Reaper) tick(ctx context.Context) {
	_ = visitAllStores(ctx, r.cfg.Provider, func(ctx context.Context, ms ManagedStore) error {
		n, err := ms.Store.ReapExpired(ctx)
		if err != nil {
			r.cfg.Logger.Error("reaper: reap failed", "store", ms.ID.Name, "err", err)
			return nil
		}
		if n > 0 {
			r.cfg.Logger.Info("reaper: recovered expired leases", "store", ms.ID.Name, "count", n)
		}
		return nil
	})
}
