// Package scheduler runs cron and one-shot (`once:`) scheduled tasks
// (spec §4.6): each due task is submitted to the group queue at high
// priority, with retry/backoff and a circuit breaker that pauses a task
// after repeated consecutive failures.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

// onceSchedulePrefix marks a one-shot schedule: "once:2026-08-01T09:00:00Z".
const onceSchedulePrefix = "once:"

const maxConsecutiveFailures = 3

// cronParser parses the standard 5-field crontab format (minute hour
// dom month dow), matching the `once:` form's sibling syntax described in
// spec §4.6.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Submitter enqueues a scheduled task's prompt as a high-priority message
// for its group. Implemented by pkg/groupqueue plus a synthetic message
// insert, kept as a narrow interface so this package does not import the
// orchestrator.
type Submitter interface {
	SubmitScheduled(ctx context.Context, groupID, prompt string) error
}

// Scheduler polls the store for due tasks and submits them.
type Scheduler struct {
	store   *store.Store
	log     *slog.Logger
	cfg     config.SchedulerConfig
	submit  Submitter
	alerter AdminAlerter

	stopCh chan struct{}
}

// New builds a Scheduler. alerter may be nil to disable the admin alert
// on circuit-breaker trip.
func New(st *store.Store, log *slog.Logger, cfg config.SchedulerConfig, submit Submitter, alerter AdminAlerter) *Scheduler {
	return &Scheduler{store: st, log: log, cfg: cfg, submit: submit, alerter: alerter, stopCh: make(chan struct{})}
}

// Create validates and persists a new scheduled task, computing its first
// NextRunUTC and rejecting a duplicate per (group, schedule, first 100
// chars of prompt).
func (s *Scheduler) Create(ctx context.Context, t models.ScheduledTask) (models.ScheduledTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = s.cfg.DefaultMaxRetries
	}
	if t.RetryDelayMS == 0 {
		t.RetryDelayMS = s.cfg.DefaultRetryDelay.Milliseconds()
	}
	if t.TaskTimeoutMS == 0 {
		t.TaskTimeoutMS = s.cfg.TaskTimeout.Milliseconds()
	}

	next, err := nextRun(t.CronExpression, t.Timezone, time.Now())
	if err != nil {
		return models.ScheduledTask{}, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
	}
	t.NextRunUTC = next.UTC()
	t.NextRunLocal = next.Format(time.RFC3339)

	dup, err := s.store.ExistsActiveDuplicate(ctx, t.DuplicateKey())
	if err != nil {
		return models.ScheduledTask{}, err
	}
	if dup {
		return models.ScheduledTask{}, fmt.Errorf("%w: duplicate scheduled task for group %s", apperrors.ErrBadInput, t.GroupID)
	}

	if err := s.store.CreateScheduledTask(ctx, t); err != nil {
		return models.ScheduledTask{}, err
	}
	return t, nil
}

// nextRun computes the next fire time for a cron expression or a
// `once:<RFC3339>` one-shot form.
func nextRun(expr, timezone string, from time.Time) (time.Time, error) {
	if strings.HasPrefix(expr, onceSchedulePrefix) {
		ts := strings.TrimPrefix(expr, onceSchedulePrefix)
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse once: schedule %q: %w", expr, err)
		}
		return t, nil
	}

	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = l
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched.Next(from.In(loc)), nil
}

// Run polls for due tasks every PollInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop halts the poll loop.
func (s *Scheduler) Stop() { close(s.stopCh) }

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.DueTasks(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error("fetch due scheduled tasks", "error", err)
		return
	}
	for _, t := range due {
		s.fire(ctx, t)
	}
}

func (s *Scheduler) fire(ctx context.Context, t models.ScheduledTask) {
	runCtx := ctx
	var cancel context.CancelFunc
	if t.TaskTimeoutMS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(t.TaskTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	err := s.submit.SubmitScheduled(runCtx, t.GroupID, t.Prompt)
	if err != nil {
		s.onFailure(ctx, t, err)
		return
	}
	s.onSuccess(ctx, t)
}

func (s *Scheduler) onSuccess(ctx context.Context, t models.ScheduledTask) {
	if strings.HasPrefix(t.CronExpression, onceSchedulePrefix) {
		if err := s.store.CompleteOnce(ctx, t.ID); err != nil {
			s.log.Error("complete one-shot task", "task", t.ID, "error", err)
		}
		return
	}

	next, err := nextRun(t.CronExpression, t.Timezone, time.Now())
	if err != nil {
		s.log.Error("compute next run", "task", t.ID, "error", err)
		return
	}
	if err := s.store.RescheduleRecurring(ctx, t.ID, next.UTC(), next.Format(time.RFC3339)); err != nil {
		s.log.Error("reschedule recurring task", "task", t.ID, "error", err)
	}
}

func (s *Scheduler) onFailure(ctx context.Context, t models.ScheduledTask, submitErr error) {
	s.log.Warn("scheduled task submission failed", "task", t.ID, "group", t.GroupID, "error", submitErr)

	updated, err := s.store.RecordFailure(ctx, t.ID)
	if err != nil {
		s.log.Error("record scheduled task failure", "task", t.ID, "error", err)
		return
	}

	if updated.ConsecutiveFailures >= maxConsecutiveFailures {
		if err := s.store.PauseTask(ctx, t.ID, time.Now().UTC()); err != nil {
			s.log.Error("pause circuit-broken task", "task", t.ID, "error", err)
			return
		}
		if s.alerter != nil {
			if err := s.alerter.AlertTaskPaused(ctx, updated); err != nil {
				s.log.Error("send task-paused alert", "task", t.ID, "error", err)
			}
		}
		return
	}

	if updated.RetryCount < updated.MaxRetries {
		delay := time.Duration(updated.RetryDelayMS) * time.Millisecond * time.Duration(1<<uint(updated.RetryCount-1))
		retryAt := time.Now().UTC().Add(delay)
		if err := s.store.RescheduleRetry(ctx, t.ID, retryAt, retryAt.Format(time.RFC3339)); err != nil {
			s.log.Error("schedule retry", "task", t.ID, "error", err)
		}
		return
	}

	// Retries exhausted but below the circuit-breaker threshold: leave a
	// one-shot task completed (no further occurrence makes sense), or
	// fall through to the task's normal next cron occurrence.
	if strings.HasPrefix(t.CronExpression, onceSchedulePrefix) {
		if err := s.store.CompleteOnce(ctx, t.ID); err != nil {
			s.log.Error("complete exhausted one-shot task", "task", t.ID, "error", err)
		}
		return
	}
	next, err := nextRun(t.CronExpression, t.Timezone, time.Now())
	if err != nil {
		s.log.Error("compute next cron occurrence after exhausted retries", "task", t.ID, "error", err)
		return
	}
	if err := s.store.RescheduleRetry(ctx, t.ID, next.UTC(), next.Format(time.RFC3339)); err != nil {
		s.log.Error("reschedule next cron occurrence", "task", t.ID, "error", err)
	}
}
