package health

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: t.TempDir() + "/assistant.db"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckAllHealthyOnFreshStore(t *testing.T) {
	st := newTestStore(t)
	c := &Checker{Store: st, Cfg: config.HealthConfig{QueueDepthWarn: 10}, Log: testLogger()}

	report := c.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, StatusHealthy, report.Checks["store"].Status)
	assert.Equal(t, StatusHealthy, report.Checks["queue"].Status)
	assert.Equal(t, StatusHealthy, report.Checks["containers"].Status)
}

func TestCheckAllDegradedOnQueueBacklog(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpsertGroup(context.Background(), models.Group{Name: "main", IsMain: true}))

	for i := 0; i < 3; i++ {
		require.NoError(t, st.EnqueueMessage(context.Background(), models.QueueEntry{
			ID: uuid.NewString(), GroupID: "main", Priority: models.PriorityNormal,
			MessageID: int64(i + 1), Status: models.QueueWaiting, EnqueuedAt: time.Now().UTC(),
		}))
	}

	c := &Checker{Store: st, Cfg: config.HealthConfig{QueueDepthWarn: 2}, Log: testLogger()}
	report := c.CheckAll(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Contains(t, report.Checks["queue"].Message, "main")
}

func TestCheckAllDegradedOnStuckContainer(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.InsertContainer(context.Background(), models.ContainerRecord{
		ID: "c1", GroupID: "main", StartedAt: time.Now().UTC(),
		LastHeartbeat: time.Now().UTC(), Status: models.ContainerStuck,
	}))

	c := &Checker{Store: st, Cfg: config.HealthConfig{}, Log: testLogger()}
	report := c.CheckAll(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Contains(t, report.Checks["containers"].Message, "stuck")
}

func TestMonitorCachesReportAndSkipsSelfHealWithoutPool(t *testing.T) {
	st := newTestStore(t)
	checker := &Checker{Store: st, Cfg: config.HealthConfig{CheckInterval: 10 * time.Millisecond}, Log: testLogger()}
	m := NewMonitor(checker, testLogger())

	assert.False(t, m.IsHealthy(), "no report yet")

	m.Start(context.Background())
	require.Eventually(t, func() bool {
		return m.LastReport().Status != ""
	}, time.Second, 5*time.Millisecond)
	m.Stop()

	assert.True(t, m.IsHealthy())
}
