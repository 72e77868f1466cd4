package live

import (
	"context"
	"log/slog"

	"vidloop-live/internal/models"
	"vidloop-live/internal/observability/metrics"
)

// Archiver persists the durable side effects of session events. Only gifts
// survive a session; comments and likes are ephemeral room state.
type Archiver interface {
	RecordGift(record models.GiftRecord) error
}

// Worker consumes queue events and archives the ones with a durable record.
type Worker struct {
	sub    Subscription
	store  Archiver
	logger *slog.Logger
}

// NewWorker prepares a worker that persists gift records delivered via the
// queue. The subscription is taken here, before Run is scheduled, so events
// published while the worker goroutine spins up are not lost.
func NewWorker(store Archiver, queue Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{store: store, logger: logger}
	if queue != nil && store != nil {
		w.sub = queue.Subscribe()
	}
	return w
}

// Run blocks until the context is cancelled, archiving events as they arrive.
func (w *Worker) Run(ctx context.Context) {
	if w.sub == nil {
		return
	}
	sub := w.sub
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			w.apply(evt)
		}
	}
}

func (w *Worker) apply(evt Event) {
	switch evt.Type {
	case EventTypeGift:
		if evt.Gift == nil {
			w.logger.Error("gift event missing payload")
			return
		}
		metrics.Default().ObserveArchiveAttempt("gift")
		if err := w.store.RecordGift(*evt.Gift); err != nil {
			metrics.Default().ObserveArchiveFailure("gift")
			w.logger.Error("failed to archive gift", "gift", evt.Gift.ID, "error", err)
		}
	case EventTypeSessionStarted, EventTypeSessionEnded, EventTypeComment:
		// Lifecycle and chat events feed dashboards downstream; nothing to
		// archive here.
	default:
		w.logger.Warn("unsupported live event", "type", string(evt.Type))
	}
}
