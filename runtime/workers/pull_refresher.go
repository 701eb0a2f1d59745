package workers

import (
	"cinematch/contract"
	"context"
	"log/slog"
	"time"
)

// Syncer reloads the pull side state: candidates and rooms.
type Syncer interface {
	Sync(ctx context.Context) error
}

// PullRefresher syncs on a fixed interval so that missed pushes are caught up.
// A failed sync is logged and retried at the next tick.
type PullRefresher struct {
	log      *slog.Logger
	syncer   Syncer
	clock    contract.Clock
	interval time.Duration
	timeout  time.Duration
}

func NewPullRefresher(log *slog.Logger, syncer Syncer, clock contract.Clock, interval, timeout time.Duration) *PullRefresher {
	return &PullRefresher{log: log, syncer: syncer, clock: clock, interval: interval, timeout: timeout}
}

func (w *PullRefresher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.interval):
			w.sync(ctx)
		}
	}
}

func (w *PullRefresher) sync(ctx context.Context) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if err := w.syncer.Sync(ctx); err != nil {
		w.log.Warn("Periodic sync failed", "error", err)
	}
}
