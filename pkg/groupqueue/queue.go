// Package groupqueue is the per-group FIFO work queue of spec §4.5: every
// inbound message that needs a container run is enqueued here, one
// worker goroutine per group drains it in priority order, and a
// background sampler adjusts how many groups may run concurrently based
// on host load.
package groupqueue

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

// Handler processes one queue entry's message, acquiring a container and
// running the turn. It is supplied by the orchestrator.
type Handler func(ctx context.Context, entry models.QueueEntry) error

// Notifier delivers a backpressure notice ("queued, position N") for one
// message through the channel it arrived on. Supplied by the orchestrator,
// which maps messageID back to the chat it needs to notify.
type Notifier func(group string, messageID int64, position int)

// Queue is the per-group FIFO dispatcher.
type Queue struct {
	store   *store.Store
	log     *slog.Logger
	cfg     config.GroupQueueConfig
	handler Handler
	notify  Notifier

	mu          sync.Mutex
	concurrency int
	active      int
	slotWake    chan struct{}            // buffered 1, signals a free slot or a raised cap
	groups      map[string]chan struct{} // per-group wake signal
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New builds a Queue. Call Start to begin dispatching.
func New(st *store.Store, log *slog.Logger, cfg config.GroupQueueConfig, handler Handler, notify Notifier) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Queue{
		store:       st,
		log:         log,
		cfg:         cfg,
		handler:     handler,
		notify:      notify,
		concurrency: cfg.MaxConcurrent,
		slotWake:    make(chan struct{}, 1),
		groups:      make(map[string]chan struct{}),
		stopCh:      make(chan struct{}),
	}
}

// Start reclaims orphaned active entries from an unclean shutdown,
// re-enqueues waiting entries, and begins the concurrency sampler loop.
func (q *Queue) Start(ctx context.Context) error {
	n, err := q.store.ReclaimStuckActive(ctx)
	if err != nil {
		return fmt.Errorf("reclaim stuck active queue entries: %w", err)
	}
	if n > 0 {
		q.log.Warn("reclaimed stuck active queue entries at startup", "count", n)
	}

	q.wg.Add(1)
	go q.sampleLoop(ctx)
	return nil
}

// Stop halts the concurrency sampler and waits for in-flight dispatch
// goroutines this Queue directly owns (per-group workers are launched
// per Enqueue call and exit once their group's queue drains).
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// Enqueue persists a new entry and ensures a worker is running for its
// group, reporting a busy error if the group's queue is already at
// MaxQueueSize.
func (q *Queue) Enqueue(ctx context.Context, group string, priority models.Priority, messageID int64) (string, error) {
	depth, err := q.store.QueueDepth(ctx, group)
	if err != nil {
		return "", fmt.Errorf("check queue depth for group %s: %w", group, err)
	}
	if int(depth) >= q.cfg.MaxQueueSize {
		return "", fmt.Errorf("%w: group %s queue at capacity (%d)", apperrors.ErrBusyQueue, group, depth)
	}

	entry := models.QueueEntry{
		ID:         uuid.NewString(),
		GroupID:    group,
		Priority:   priority,
		MessageID:  messageID,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.store.EnqueueMessage(ctx, entry); err != nil {
		return "", err
	}
	if q.notify != nil {
		q.notify(group, entry.MessageID, int(depth)+1)
	}
	q.ensureWorker(group)
	return entry.ID, nil
}

// ensureWorker starts a worker goroutine for group if one is not already
// running. The worker exits once the group's queue is empty; a later
// Enqueue call will start a fresh one.
func (q *Queue) ensureWorker(group string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.groups[group]; ok {
		return
	}
	wake := make(chan struct{}, 1)
	q.groups[group] = wake
	go q.runGroupWorker(group, wake)
}

func (q *Queue) runGroupWorker(group string, wake chan struct{}) {
	ctx := context.Background()
	defer func() {
		q.mu.Lock()
		delete(q.groups, group)
		q.mu.Unlock()
	}()

	for {
		entry, ok, err := q.store.NextWaiting(ctx, group)
		if err != nil {
			q.log.Error("fetch next waiting entry", "group", group, "error", err)
			return
		}
		if !ok {
			return
		}

		if !q.runEntry(ctx, entry) {
			return // queue is stopping
		}
	}
}

// runEntry dispatches one queue entry, blocking on acquireSlot until the
// dynamic concurrency cap has room. Returns false if the queue stopped
// before a slot became available, telling the caller to stop polling for
// more work rather than busy-looping.
func (q *Queue) runEntry(ctx context.Context, entry models.QueueEntry) bool {
	if !q.acquireSlot() {
		return false
	}
	defer q.releaseSlot()

	now := time.Now().UTC()
	if err := q.store.MarkActive(ctx, entry.ID, "", now); err != nil {
		q.log.Error("mark queue entry active", "entry", entry.ID, "error", err)
		return true
	}

	err := q.handler(ctx, entry)
	finishedAt := time.Now().UTC()
	if err != nil {
		q.log.Warn("queue entry handler failed", "entry", entry.ID, "group", entry.GroupID, "error", err)
		if entry.RetryCount < 2 && apperrors.IsRetryable(err) {
			if rerr := q.store.IncrementRetry(ctx, entry.ID, err.Error()); rerr != nil {
				q.log.Error("increment retry", "entry", entry.ID, "error", rerr)
			}
			return true
		}
		if merr := q.store.MarkFinished(ctx, entry.ID, models.QueueFailed, err.Error(), finishedAt); merr != nil {
			q.log.Error("mark queue entry failed", "entry", entry.ID, "error", merr)
		}
		return true
	}

	if err := q.store.MarkFinished(ctx, entry.ID, models.QueueCompleted, "", finishedAt); err != nil {
		q.log.Error("mark queue entry completed", "entry", entry.ID, "error", err)
	}
	return true
}

// acquireSlot blocks until fewer than the current dynamic concurrency cap
// are active, then reserves one. Returns false if the queue stopped while
// waiting.
func (q *Queue) acquireSlot() bool {
	for {
		q.mu.Lock()
		if q.active < q.concurrency {
			q.active++
			q.mu.Unlock()
			return true
		}
		q.mu.Unlock()

		select {
		case <-q.stopCh:
			return false
		case <-q.slotWake:
		}
	}
}

// releaseSlot frees one concurrency slot and wakes a waiter, if any.
func (q *Queue) releaseSlot() {
	q.mu.Lock()
	q.active--
	q.mu.Unlock()
	q.wakeSlot()
}

func (q *Queue) wakeSlot() {
	select {
	case q.slotWake <- struct{}{}:
	default:
	}
}

// Concurrency returns the currently permitted concurrent-group count.
func (q *Queue) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency
}

// sampleLoop periodically re-derives the permitted concurrency from host
// load average and free memory, clamped to [1, MaxConcurrent] (spec
// §4.5).
func (q *Queue) sampleLoop(ctx context.Context) {
	defer q.wg.Done()
	interval := q.cfg.SampleInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sample()
		}
	}
}

func (q *Queue) sample() {
	load, err := loadAverage1m()
	if err != nil {
		q.log.Debug("load average sample unavailable", "error", err)
		return
	}
	freePct, err := freeMemPercent()
	if err != nil {
		q.log.Debug("free memory sample unavailable", "error", err)
		return
	}

	next := q.cfg.MaxConcurrent
	if q.cfg.LoadAvgCeiling > 0 && load > q.cfg.LoadAvgCeiling {
		next--
	}
	if q.cfg.FreeMemFloorPct > 0 && freePct < q.cfg.FreeMemFloorPct {
		next--
	}
	if next < 1 {
		next = 1
	}
	if next > q.cfg.MaxConcurrent {
		next = q.cfg.MaxConcurrent
	}

	q.mu.Lock()
	changed := next != q.concurrency
	q.concurrency = next
	q.mu.Unlock()

	if changed {
		q.log.Info("group queue concurrency adjusted", "concurrency", next, "load_1m", load, "free_mem_pct", freePct)
		q.wakeSlot()
	}
}
