package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

// DirsFor builds the three bind-mount directories for a group, rooted
// under the store's groups/ipc directories.
type DirsFor func(group string) Dirs

// ImageFor resolves which image and env a spawn should use for a group.
// Kept as a callback so callers can inject group-specific env (API keys,
// mcp config paths) without this package depending on config layout.
type SpecFor func(group string) (image string, env []string)

// spawner is the slice of *Runtime the pool actually drives, narrowed to
// an interface so tests can exercise pool bookkeeping without a real
// containerd socket.
type spawner interface {
	Spawn(ctx context.Context, id string, spec Spec) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string) error
	ManagedIDs(ctx context.Context) ([]string, error)
}

// Pool is the warm pool of spec §4.4: a handful of containers kept ready
// so a conversation turn rarely pays a cold start, plus the stuck/orphan
// housekeeping that keeps the containerd view and the store in sync.
type Pool struct {
	rt    spawner
	store *store.Store
	log   *slog.Logger
	cfg   config.PoolConfig
	ccfg  config.ContainerConfig
	dirs  DirsFor
	spec  SpecFor

	mu      sync.Mutex
	stopped chan struct{}
}

// New builds a Pool. Call Start to run the idle-retirement and
// stuck-detector loops, and RunOrphanSweep once at startup.
func New(rt *Runtime, st *store.Store, log *slog.Logger, cfg config.PoolConfig, ccfg config.ContainerConfig, dirs DirsFor, spec SpecFor) *Pool {
	return newPool(rt, st, log, cfg, ccfg, dirs, spec)
}

func newPool(rt spawner, st *store.Store, log *slog.Logger, cfg config.PoolConfig, ccfg config.ContainerConfig, dirs DirsFor, spec SpecFor) *Pool {
	return &Pool{
		rt:      rt,
		store:   st,
		log:     log,
		cfg:     cfg,
		ccfg:    ccfg,
		dirs:    dirs,
		spec:    spec,
		stopped: make(chan struct{}),
	}
}

// Start launches the background idle-retirement and stuck-container
// detector loops. It returns immediately; the loops run until ctx is
// done.
func (p *Pool) Start(ctx context.Context) {
	go p.retireIdleLoop(ctx)
	go p.stuckDetectorLoop(ctx)
}

// Acquire returns a ready container for group, following the acquisition
// order of spec §4.4: same-group ready container, then any ready
// container repurposed for this group, then a warm spawn, then a cold
// spawn if the pool is already at MaxSize.
func (p *Pool) Acquire(ctx context.Context, group string) (*models.ContainerRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle, err := p.store.IdleContainers(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("list idle containers for group %s: %w", group, err)
	}
	if len(idle) > 0 {
		return p.claim(ctx, idle[0])
	}

	anyIdle, err := p.anyReadyOtherGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	if anyIdle != nil {
		if err := p.store.ReassignGroup(ctx, anyIdle.ID, group); err != nil {
			return nil, fmt.Errorf("reassign container %s to group %s: %w", anyIdle.ID, group, err)
		}
		return p.claim(ctx, *anyIdle)
	}

	total, err := p.countNonTerminal(ctx)
	if err != nil {
		return nil, err
	}
	if total >= p.cfg.MaxSize {
		return nil, fmt.Errorf("%w: warm pool at capacity (%d)", apperrors.ErrBusyQueue, total)
	}

	return p.spawnFor(ctx, group)
}

func (p *Pool) claim(ctx context.Context, rec models.ContainerRecord) (*models.ContainerRecord, error) {
	if err := p.store.SetContainerStatus(ctx, rec.ID, models.ContainerInUse); err != nil {
		return nil, err
	}
	if err := p.store.IncrementReuse(ctx, rec.ID); err != nil {
		return nil, err
	}
	rec.Status = models.ContainerInUse
	rec.ReuseCount++
	return &rec, nil
}

func (p *Pool) anyReadyOtherGroup(ctx context.Context, group string) (*models.ContainerRecord, error) {
	all, err := p.store.AllNonTerminal(ctx)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal containers: %w", err)
	}
	for _, c := range all {
		if c.Status == models.ContainerReady && c.GroupID != group {
			cp := c
			cp.GroupID = group
			return &cp, nil
		}
	}
	return nil, nil
}

func (p *Pool) countNonTerminal(ctx context.Context) (int, error) {
	all, err := p.store.AllNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("count non-terminal containers: %w", err)
	}
	return len(all), nil
}

func (p *Pool) spawnFor(ctx context.Context, group string) (*models.ContainerRecord, error) {
	id := uuid.NewString()
	image, env := p.spec(group)
	dirs := p.dirs(group)

	rec := models.ContainerRecord{
		ID:            id,
		GroupID:       group,
		StartedAt:     time.Now().UTC(),
		LastHeartbeat: time.Now().UTC(),
		Status:        models.ContainerWarming,
		Labels:        map[string]string{"group": group},
	}
	if err := p.store.InsertContainer(ctx, rec); err != nil {
		return nil, fmt.Errorf("record spawning container %s: %w", id, err)
	}

	spawnSpec := SpecFromConfig(group, image, env, dirs, p.ccfg)
	readyCtx, cancel := context.WithTimeout(ctx, p.ccfg.ReadyTimeout)
	defer cancel()
	if err := p.rt.Spawn(readyCtx, id, spawnSpec); err != nil {
		_ = p.store.SetContainerStatus(ctx, id, models.ContainerStuck)
		return nil, &apperrors.ContainerSpawnFailedError{Group: group, Err: err}
	}

	if err := p.store.SetContainerStatus(ctx, id, models.ContainerInUse); err != nil {
		return nil, err
	}
	rec.Status = models.ContainerInUse
	return &rec, nil
}

// Release returns a container to the ready pool (status=ready) so it can
// be reused, rather than stopping it immediately.
func (p *Pool) Release(ctx context.Context, id string) error {
	return p.store.SetContainerStatus(ctx, id, models.ContainerReady)
}

// Drain marks a container draining and stops/removes it once its task
// exits, e.g. after MaxReuse is hit or on shutdown.
func (p *Pool) Drain(ctx context.Context, id string) error {
	if err := p.store.SetContainerStatus(ctx, id, models.ContainerDraining); err != nil {
		return err
	}
	if err := p.rt.Stop(ctx, id, p.ccfg.GracefulStop); err != nil {
		return fmt.Errorf("stop draining container %s: %w", id, err)
	}
	if err := p.rt.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove drained container %s: %w", id, err)
	}
	return p.store.SetContainerStatus(ctx, id, models.ContainerStopped)
}

// Heartbeat records that a container is still alive.
func (p *Pool) Heartbeat(ctx context.Context, id string) error {
	return p.store.Heartbeat(ctx, id, time.Now().UTC())
}

func (p *Pool) retireIdleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			return
		case <-ticker.C:
			p.retireIdle(ctx)
		}
	}
}

func (p *Pool) retireIdle(ctx context.Context) {
	all, err := p.store.AllNonTerminal(ctx)
	if err != nil {
		p.log.Error("list containers for idle retirement", "error", err)
		return
	}
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	ready := 0
	for _, c := range all {
		if c.Status == models.ContainerReady {
			ready++
		}
	}
	if ready <= p.cfg.MinSize {
		return
	}
	for _, c := range all {
		if c.Status != models.ContainerReady || c.LastHeartbeat.After(cutoff) {
			continue
		}
		if ready <= p.cfg.MinSize {
			return
		}
		if err := p.Drain(ctx, c.ID); err != nil {
			p.log.Warn("idle retirement drain failed", "container", c.ID, "error", err)
			continue
		}
		ready--
	}
}

func (p *Pool) stuckDetectorLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			return
		case <-ticker.C:
			p.detectStuck(ctx)
		}
	}
}

func (p *Pool) detectStuck(ctx context.Context) {
	cutoff := time.Now().Add(-p.ccfg.StuckAfter)
	stale, err := p.store.StaleHeartbeats(ctx, cutoff)
	if err != nil {
		p.log.Error("list stale heartbeats", "error", err)
		return
	}
	for _, c := range stale {
		p.log.Warn("container heartbeat stale, marking stuck", "container", c.ID, "group", c.GroupID)
		if err := p.store.SetContainerStatus(ctx, c.ID, models.ContainerStuck); err != nil {
			p.log.Error("mark container stuck", "container", c.ID, "error", err)
		}
	}
}

// RunOrphanSweep compares the store's non-terminal containers against
// what containerd actually reports under the managed=true label, force
// stopping anything containerd knows about that the store does not (spec
// §4.4 "orphan sweep at startup").
func (p *Pool) RunOrphanSweep(ctx context.Context) error {
	managed, err := p.rt.ManagedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list managed containers for orphan sweep: %w", err)
	}
	known, err := p.store.AllNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("list known containers for orphan sweep: %w", err)
	}
	knownIDs := make(map[string]bool, len(known))
	for _, c := range known {
		knownIDs[c.ID] = true
	}

	for _, id := range managed {
		if knownIDs[id] {
			continue
		}
		p.log.Warn("force-stopping orphaned container not in store registry", "container", id)
		if err := p.rt.Stop(ctx, id, 5*time.Second); err != nil {
			p.log.Error("stop orphan container", "container", id, "error", err)
		}
		if err := p.rt.Remove(ctx, id); err != nil {
			p.log.Error("remove orphan container", "container", id, "error", err)
		}
	}
	return nil
}

// Stop halts the pool's background loops.
func (p *Pool) Stop() {
	close(p.stopped)
}
