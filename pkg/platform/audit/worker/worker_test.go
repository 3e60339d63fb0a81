package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "jitaccess/pkg/platform/audit"
	"jitaccess/pkg/platform/audit/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1, discardLogger())
	ctx := context.Background()

	require.NoError(t, q.Emit(ctx, audit.Event{Action: audit.EventAccessRequested, AccessRequestID: "req-1"}))
	require.NoError(t, q.Emit(ctx, audit.Event{Action: audit.EventAccessApproved, AccessRequestID: "req-1"}))

	assert.Equal(t, int64(1), q.Dropped())
	got := <-q.Inbox()
	assert.Equal(t, audit.EventAccessRequested, got.Action)
}

func TestWorkerPersistsEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	q := NewQueue(8, discardLogger())
	w := NewWorker(store, q.Inbox(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Emit(ctx, audit.Event{Action: audit.EventAccessRequested, AccessRequestID: "req-1"}))
	require.NoError(t, q.Emit(ctx, audit.Event{Action: audit.EventAccessApproved, AccessRequestID: "req-1"}))
	require.NoError(t, q.Emit(ctx, audit.Event{Action: audit.EventAccessRequested, AccessRequestID: "req-2"}))

	require.Eventually(t, func() bool {
		events, _ := store.ListAll(context.Background())
		return len(events) == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	trail, err := store.ListByAccessRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, audit.EventAccessRequested, trail[0].Action)
	assert.Equal(t, audit.EventAccessApproved, trail[1].Action)
}

type failingStore struct{ calls int }

func (f *failingStore) Append(context.Context, audit.Event) error {
	f.calls++
	return errors.New("sink down")
}

func TestWorkerDrainsOnShutdownAndSurvivesSinkErrors(t *testing.T) {
	inbox := make(chan audit.Event, 4)
	inbox <- audit.Event{Action: audit.EventGrantFailed}
	inbox <- audit.Event{Action: audit.EventGrantFailed}

	store := &failingStore{}
	w := NewWorker(store, inbox, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, store.calls)
}
