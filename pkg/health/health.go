// Package health aggregates liveness information across the assistant's
// own components (store, container pool, group queues) into the single
// checks map the local /health and /status endpoints serve, and runs a
// background monitor that keeps that view fresh and drives a couple of
// self-heal actions (orphan container reclaim) on its own schedule,
// independent of any request arriving to ask for it.
//
// The Start/Stop/loop lifecycle uses a cached, mutex-guarded status map
// maintained by a single background goroutine, with the checks-map-plus-
// overall-status shape served directly by the health HTTP handler.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/container"
	"github.com/hearth-ai/assistant/pkg/metrics"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

// Status values served by the health handler.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check is the status of a single component.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the full liveness snapshot served by /health and /status.
type Report struct {
	Status    string           `json:"status"`
	CheckedAt time.Time        `json:"checked_at"`
	Checks    map[string]Check `json:"checks"`
}

// Checker runs the component probes that make up a Report. It holds no
// state of its own; Monitor wraps it to cache results and run it on a
// schedule.
type Checker struct {
	Store *store.Store
	Pool  *container.Pool
	Cfg   config.HealthConfig
	Log   *slog.Logger
}

// CheckAll probes every component once and returns the combined report.
// Each probe is independent: a failure in one does not stop the others
// from running, since the whole point is to report which parts are down.
func (c *Checker) CheckAll(ctx context.Context) Report {
	checks := make(map[string]Check, 3)
	overall := StatusHealthy

	worsen := func(s string) {
		if s == StatusUnhealthy {
			overall = StatusUnhealthy
		} else if s == StatusDegraded && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	storeStatus, err := c.Store.Health(ctx)
	if err != nil {
		checks["store"] = Check{Status: StatusUnhealthy, Message: err.Error()}
		worsen(StatusUnhealthy)
	} else {
		checks["store"] = Check{Status: storeStatus.Status}
		worsen(storeStatus.Status)
	}

	queueCheck := c.checkQueues(ctx)
	checks["queue"] = queueCheck
	worsen(queueCheck.Status)

	containerCheck := c.checkContainers(ctx)
	checks["containers"] = containerCheck
	worsen(containerCheck.Status)

	return Report{Status: overall, CheckedAt: time.Now(), Checks: checks}
}

func (c *Checker) checkQueues(ctx context.Context) Check {
	groups, err := c.Store.ListGroups(ctx)
	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}

	var worst int64
	var worstGroup string
	for _, g := range groups {
		depth, err := c.Store.QueueDepth(ctx, g.Name)
		if err != nil {
			continue
		}
		metrics.QueueDepth.WithLabelValues(g.Name).Set(float64(depth))
		if depth > worst {
			worst = depth
			worstGroup = g.Name
		}
	}

	if c.Cfg.QueueDepthWarn > 0 && worst > int64(c.Cfg.QueueDepthWarn) {
		return Check{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("group %q backlog at %d", worstGroup, worst),
		}
	}
	return Check{Status: StatusHealthy}
}

func (c *Checker) checkContainers(ctx context.Context) Check {
	records, err := c.Store.AllNonTerminal(ctx)
	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}

	counts := make(map[models.ContainerStatus]int)
	for _, r := range records {
		counts[r.Status]++
	}
	// Reset every known status so a status that dropped to zero still
	// reports zero rather than the gauge's last nonzero value.
	for _, s := range []models.ContainerStatus{
		models.ContainerWarming, models.ContainerReady, models.ContainerInUse,
		models.ContainerDraining, models.ContainerStuck,
	} {
		metrics.ContainersByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}

	if counts[models.ContainerStuck] > 0 {
		return Check{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d stuck container(s)", counts[models.ContainerStuck]),
		}
	}
	return Check{Status: StatusHealthy}
}

// Monitor runs Checker on a ticker, caches the last report, and performs
// a self-heal sweep (reconciling the store's container bookkeeping
// against the runtime) alongside each check. The container pool already
// runs its own stuck-detector and idle-retirement loops; this sweep is a
// second, independent pass — cheap insurance if the pool's own loop is
// ever stopped or lagging, since the monitor has no dependency on it.
type Monitor struct {
	checker *Checker
	log     *slog.Logger
	cfg     config.HealthConfig

	mu     sync.RWMutex
	last   Report
	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	errs  []string
}

const maxRecentErrors = 20

// NewMonitor builds a Monitor. Call Start to begin the background loop.
func NewMonitor(checker *Checker, log *slog.Logger) *Monitor {
	return &Monitor{checker: checker, log: log, cfg: checker.Cfg}
}

// Start launches the background check loop. Calling Start twice without
// an intervening Stop is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop halts the background loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	m.cancel = nil
	m.done = nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.tick(ctx)

	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	report := m.checker.CheckAll(ctx)
	m.mu.Lock()
	m.last = report
	m.mu.Unlock()

	for name, chk := range report.Checks {
		if chk.Status != StatusHealthy && chk.Message != "" {
			m.recordError(fmt.Sprintf("%s: %s", name, chk.Message))
		}
	}

	if m.checker.Pool == nil {
		return
	}
	if err := m.checker.Pool.RunOrphanSweep(ctx); err != nil {
		metrics.SelfHealSweepsTotal.WithLabelValues("failed").Inc()
		m.log.Warn("self-heal orphan sweep failed", "error", err)
		m.recordError(fmt.Sprintf("self-heal sweep: %s", err))
		return
	}
	metrics.SelfHealSweepsTotal.WithLabelValues("ok").Inc()
}

func (m *Monitor) recordError(msg string) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	m.errs = append(m.errs, msg)
	if len(m.errs) > maxRecentErrors {
		m.errs = m.errs[len(m.errs)-maxRecentErrors:]
	}
}

// RecentErrors returns the most recent error/degraded messages observed
// by the monitor, oldest first, for the status endpoint's recent_errors
// field (spec §6).
func (m *Monitor) RecentErrors() []string {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	out := make([]string, len(m.errs))
	copy(out, m.errs)
	return out
}

// LastReport returns the most recent cached report. Before the first
// tick completes, Status is the empty string; callers should treat that
// as "not yet known" rather than unhealthy.
func (m *Monitor) LastReport() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// IsHealthy reports whether the last check came back healthy. A report
// that hasn't run yet is not healthy.
func (m *Monitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last.Status == StatusHealthy
}
