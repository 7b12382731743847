package container

import (
	"context"
	"log/slog"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/store"
)

type fakeSpawner struct {
	mu      sync.Mutex
	spawned []string
	stopped []string
	managed []string
}

func (f *fakeSpawner) Spawn(ctx context.Context, id string, spec Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, id)
	return nil
}

func (f *fakeSpawner) Stop(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeSpawner) Remove(ctx context.Context, id string) error { return nil }

func (f *fakeSpawner) ManagedIDs(ctx context.Context) ([]string, error) {
	return f.managed, nil
}

func newTestPool(t *testing.T, rt spawner) (*Pool, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: t.TempDir() + "/assistant.db"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.PoolConfig{MinSize: 1, MaxSize: 2, IdleTimeout: time.Hour, MaxReuse: 10}
	ccfg := config.ContainerConfig{Image: "assistant-sandbox:latest", ReadyTimeout: 5 * time.Second, GracefulStop: 2 * time.Second, StuckAfter: 3 * time.Minute}
	dirs := func(group string) Dirs { return Dirs{Workspace: "/tmp/ws", IPC: "/tmp/ipc", Session: "/tmp/sess"} }
	spec := func(group string) (string, []string) { return ccfg.Image, nil }

	p := newPool(rt, st, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, ccfg, dirs, spec)
	return p, st
}

func TestAcquireColdSpawnsWhenNoIdle(t *testing.T) {
	rt := &fakeSpawner{}
	p, _ := newTestPool(t, rt)

	rec, err := p.Acquire(context.Background(), "group-a")
	require.NoError(t, err)
	assert.Equal(t, "group-a", rec.GroupID)
	assert.Len(t, rt.spawned, 1)
}

func TestAcquireReusesSameGroupIdleContainer(t *testing.T) {
	rt := &fakeSpawner{}
	p, st := newTestPool(t, rt)

	rec, err := p.Acquire(context.Background(), "group-a")
	require.NoError(t, err)
	require.NoError(t, p.Release(context.Background(), rec.ID))

	rec2, err := p.Acquire(context.Background(), "group-a")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, rec2.ID)
	assert.Len(t, rt.spawned, 1, "second acquire should reuse, not cold spawn")

	all, err := st.AllNonTerminal(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].ReuseCount)
}

func TestAcquireFailsAtCapacity(t *testing.T) {
	rt := &fakeSpawner{}
	p, _ := newTestPool(t, rt)

	_, err := p.Acquire(context.Background(), "group-a")
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "group-b")
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), "group-c")
	assert.Error(t, err)
}

func TestOrphanSweepStopsUnknownManagedContainers(t *testing.T) {
	rt := &fakeSpawner{managed: []string{"orphan-1"}}
	p, _ := newTestPool(t, rt)

	require.NoError(t, p.RunOrphanSweep(context.Background()))
	assert.Contains(t, rt.stopped, "orphan-1")
}
