package retention

import (
	"context"
	"log/slog"
	"time"

	"vaultline/pkg/requestcontext"
)

// Cleaner runs one sweep.
type Cleaner interface {
	CleanupExpiredIdentities(ctx context.Context) (int, error)
}

// Worker sweeps on a fixed interval until its context ends. A failed sweep
// is logged and retried on the next tick.
type Worker struct {
	cleaner  Cleaner
	interval time.Duration
	logger   *slog.Logger
}

func NewWorker(cleaner Cleaner, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{cleaner: cleaner, interval: interval, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	ctx = requestcontext.WithActor(ctx, "retention-worker")
	if _, err := w.cleaner.CleanupExpiredIdentities(ctx); err != nil {
		w.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
	}
}
