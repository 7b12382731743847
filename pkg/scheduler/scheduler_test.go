package scheduler

import (
	"context"
	"fmt"
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

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	failFor int // fail this many calls before succeeding
}

func (f *fakeSubmitter) SubmitScheduled(ctx context.Context, groupID, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFor {
		return fmt.Errorf("transient failure")
	}
	return nil
}

type fakeAlerter struct {
	mu      sync.Mutex
	alerted []string
}

func (f *fakeAlerter) AlertTaskPaused(ctx context.Context, task models.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerted = append(f.alerted, task.ID)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: t.TempDir() + "/assistant.db"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testSchedulerCfg() config.SchedulerConfig {
	return config.SchedulerConfig{
		PollInterval:      50 * time.Millisecond,
		TaskTimeout:       5 * time.Second,
		DefaultMaxRetries: 2,
		DefaultRetryDelay: time.Millisecond,
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	st := newTestStore(t)
	sched := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), testSchedulerCfg(), &fakeSubmitter{}, nil)

	task := models.ScheduledTask{GroupID: "group-a", CronExpression: "0 9 * * *", Prompt: "daily standup"}
	_, err := sched.Create(context.Background(), task)
	require.NoError(t, err)

	_, err = sched.Create(context.Background(), task)
	assert.ErrorContains(t, err, "duplicate")
}

func TestOnceTaskCompletesAfterFiring(t *testing.T) {
	st := newTestStore(t)
	sub := &fakeSubmitter{}
	sched := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), testSchedulerCfg(), sub, nil)

	fireAt := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	task, err := sched.Create(context.Background(), models.ScheduledTask{
		GroupID:        "group-a",
		CronExpression: "once:" + fireAt,
		Prompt:         "one-shot reminder",
	})
	require.NoError(t, err)

	sched.tick(context.Background())

	due, err := st.DueTasks(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	for _, d := range due {
		assert.NotEqual(t, task.ID, d.ID, "completed one-shot task should not still be due")
	}
}

func TestCircuitBreakerPausesAndAlertsAfterThreeFailures(t *testing.T) {
	st := newTestStore(t)
	sub := &fakeSubmitter{failFor: 10}
	alerter := &fakeAlerter{}
	sched := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), testSchedulerCfg(), sub, alerter)

	fireAt := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	task, err := sched.Create(context.Background(), models.ScheduledTask{
		GroupID:        "group-a",
		CronExpression: "once:" + fireAt,
		Prompt:         "flaky reminder",
		MaxRetries:     10,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		sched.tick(context.Background())
		time.Sleep(5 * time.Millisecond)
	}

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	assert.Contains(t, alerter.alerted, task.ID)
}
