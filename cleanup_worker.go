package outboxd

import (
	"context"
	"log/slog"
	"time"

	"github.com/bravellian/outboxd/internal"
)

// CleanupWorkerConfig tunes a CleanupWorker.
type CleanupWorkerConfig struct {
	Interval  time.Duration
	Retention time.Duration
	Provider  StoreProvider
	Logger    *slog.Logger
}

// CleanupWorker periodically deletes terminal (Done/Dead) rows older
// than Retention from every store a provider reports, bounding table
// growth for an otherwise append-mostly queue.
//
// Grounded directly on the teacher's clean_worker.go/cleaner.go pair
// (CleanWorker driving Cleaner.Clean on a cadence via lcBase), with
// the cadence now driven over a provider's store set instead of one
// hard-wired Cleaner.
type CleanupWorker struct {
	lcBase

	cfg   CleanupWorkerConfig
	timer internal.TimerTask
}

func NewCleanupWorker(cfg CleanupWorkerConfig) *CleanupWorker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &CleanupWorker{cfg: cfg}
}

func (w *CleanupWorker) Start(ctx context.Context) error {
	if err := w.tryStart(); err != nil {
		return err
	}
	w.timer.Start(ctx, w.tick, w.cfg.Interval)
	return nil
}

func (w *CleanupWorker) Stop(timeout time.Duration) error {
	return w.tryStop(timeout, func() <-chan struct{} {
		return w.timer.Stop()
	})
}

func (w *CleanupWorker) tick(ctx context.Context) {
	_ = visitAllStores(ctx, w.cfg.Provider, func(ctx context.Context, ms ManagedStore) error {
		n, err := ms.Store.Cleanup(ctx, w.cfg.Retention)
		if err != nil {
			w.cfg.Logger.Error("cleanup: sweep failed", "store", ms.ID.Name, "err", err)
			return nil
		}
		if n > 0 {
			w.cfg.Logger.Info("cleanup: deleted terminal rows", "store", ms.ID.Name, "count", n)
		}
		return nil
	})
}
