package jobs

import (
	"context"
	"log/slog"
	"time"
)

// PendingExpirer is the slice of the scheduling engine the worker drives.
type PendingExpirer interface {
	ExpirePending(ctx context.Context, ttl time.Duration, batchSize int) (int, error)
}

// ExpiryWorker periodically cancels PENDING bookings whose response window
// lapsed, releasing their intervals back to the calendar. The batch runs as
// one transaction with SKIP LOCKED row claims, so replicas can run this
// worker side by side.
type ExpiryWorker struct {
	engine    PendingExpirer
	logger    *slog.Logger
	interval  time.Duration
	ttl       time.Duration
	batchSize int
}

type ExpiryConfig struct {
	Interval  time.Duration
	TTL       time.Duration
	BatchSize int
}

func NewExpiryWorker(engine PendingExpirer, logger *slog.Logger, cfg ExpiryConfig) *ExpiryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &ExpiryWorker{
		engine:    engine,
		logger:    logger,
		interval:  cfg.Interval,
		ttl:       cfg.TTL,
		batchSize: cfg.BatchSize,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ExpiryWorker) tick(ctx context.Context) {
	n, err := w.engine.ExpirePending(ctx, w.ttl, w.batchSize)
	if err != nil {
		w.logger.Error("booking expiry batch failed", "err", err)
		return
	}
	if n == w.batchSize {
		// A full batch means more stale holds are likely waiting; drain
		// them now instead of sleeping a whole interval.
		w.tick(ctx)
	}
}
