package groupqueue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: t.TempDir() + "/assistant.db"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEnqueueProcessesInPriorityOrder(t *testing.T) {
	st := newTestStore(t)

	var mu sync.Mutex
	var processed []int64

	done := make(chan struct{}, 3)
	handler := func(ctx context.Context, entry models.QueueEntry) error {
		mu.Lock()
		processed = append(processed, entry.MessageID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}

	cfg := config.GroupQueueConfig{MaxConcurrent: 1, MaxQueueSize: 10, SampleInterval: time.Hour}
	q := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, handler, nil)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, "group-a", models.PriorityLow, 1)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "group-a", models.PriorityNormal, 2)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "group-a", models.PriorityHigh, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for queue entries to process")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, processed, 3)
	assert.Equal(t, int64(3), processed[0], "high priority should run first despite being enqueued last")
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	st := newTestStore(t)
	block := make(chan struct{})
	handler := func(ctx context.Context, entry models.QueueEntry) error {
		<-block
		return nil
	}

	cfg := config.GroupQueueConfig{MaxConcurrent: 1, MaxQueueSize: 1, SampleInterval: time.Hour}
	q := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, handler, nil)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, "group-a", models.PriorityNormal, 1)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "group-a", models.PriorityNormal, 2)
	assert.ErrorContains(t, err, "system busy")
	close(block)
}

func TestStartReclaimsStuckActiveEntries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	entry := models.QueueEntry{ID: "e1", GroupID: "group-a", Priority: models.PriorityNormal, MessageID: 1, EnqueuedAt: time.Now().UTC()}
	require.NoError(t, st.EnqueueMessage(ctx, entry))
	require.NoError(t, st.MarkActive(ctx, entry.ID, "container-x", time.Now().UTC()))

	q := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), config.GroupQueueConfig{MaxConcurrent: 1, MaxQueueSize: 10, SampleInterval: time.Hour}, func(context.Context, models.QueueEntry) error { return nil }, nil)
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	depth, err := st.QueueDepth(ctx, "group-a")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, depth, int64(0))
}
