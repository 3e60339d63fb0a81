package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	audit "jitaccess/pkg/platform/audit"
)

// Queue is a non-blocking audit.Publisher backed by a buffered channel.
// Events that do not fit in the buffer are dropped and counted.
type Queue struct {
	ch      chan audit.Event
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{ch: make(chan audit.Event, size), logger: logger}
}

func (q *Queue) Emit(ctx context.Context, event audit.Event) error {
	select {
	case q.ch <- event:
	default:
		q.dropped.Add(1)
		q.logger.WarnContext(ctx, "audit queue full, dropping event",
			"action", event.Action.String(),
			"access_request_id", event.AccessRequestID,
		)
	}
	return nil
}

// Inbox exposes the receive side for a Worker.
func (q *Queue) Inbox() <-chan audit.Event {
	return q.ch
}

func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Worker consumes audit events from a channel and persists them. A failing
// sink is logged and skipped so one bad event does not stall the trail.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run blocks until ctx is cancelled, then drains whatever is already buffered.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.append(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-w.inbox:
			w.append(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) append(ctx context.Context, event audit.Event) {
	if err := w.store.Append(ctx, event); err != nil {
		w.logger.ErrorContext(ctx, "failed to persist audit event",
			"action", event.Action.String(),
			"access_request_id", event.AccessRequestID,
			"error", err,
		)
	}
}
