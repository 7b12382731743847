package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/models"
)

type scheduledTaskRow struct {
	ID                  string       `db:"id"`
	GroupID             string       `db:"group_id"`
	CronExpression      string       `db:"cron_expression"`
	Prompt              string       `db:"prompt"`
	NextRunUTC          time.Time    `db:"next_run_utc"`
	NextRunLocal        string       `db:"next_run_local"`
	Timezone            string       `db:"timezone"`
	Status              string       `db:"status"`
	RetryCount          int          `db:"retry_count"`
	MaxRetries          int          `db:"max_retries"`
	RetryDelayMS        int64        `db:"retry_delay_ms"`
	TaskTimeoutMS       int64        `db:"task_timeout_ms"`
	ConsecutiveFailures int          `db:"consecutive_failures"`
	DisabledAt          sql.NullTime `db:"disabled_at"`
	DuplicateKey        string       `db:"duplicate_key"`
}

func (r scheduledTaskRow) toModel() models.ScheduledTask {
	t := models.ScheduledTask{
		ID:                  r.ID,
		GroupID:             r.GroupID,
		CronExpression:      r.CronExpression,
		Prompt:              r.Prompt,
		NextRunUTC:          r.NextRunUTC,
		NextRunLocal:        r.NextRunLocal,
		Timezone:            r.Timezone,
		Status:              models.ScheduleStatus(r.Status),
		RetryCount:          r.RetryCount,
		MaxRetries:          r.MaxRetries,
		RetryDelayMS:        r.RetryDelayMS,
		TaskTimeoutMS:       r.TaskTimeoutMS,
		ConsecutiveFailures: r.ConsecutiveFailures,
	}
	if r.DisabledAt.Valid {
		t.DisabledAt = &r.DisabledAt.Time
	}
	return t
}

// CreateScheduledTask inserts a new task, rejecting duplicates that share
// (group, schedule, first 100 chars of prompt) with another active task.
func (s *Store) CreateScheduledTask(ctx context.Context, t models.ScheduledTask) error {
	_, err := s.g.Insert("scheduled_tasks").Rows(goqu.Record{
		"id":                   t.ID,
		"group_id":             t.GroupID,
		"cron_expression":      t.CronExpression,
		"prompt":               t.Prompt,
		"next_run_utc":         t.NextRunUTC,
		"next_run_local":       t.NextRunLocal,
		"timezone":             t.Timezone,
		"status":               string(models.ScheduleActive),
		"retry_count":          0,
		"max_retries":          t.MaxRetries,
		"retry_delay_ms":       t.RetryDelayMS,
		"task_timeout_ms":      t.TaskTimeoutMS,
		"consecutive_failures": 0,
		"duplicate_key":        t.DuplicateKey(),
	}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: create scheduled task for group %s: %v", apperrors.ErrBadInput, t.GroupID, err)
	}
	return nil
}

// DueTasks returns every active task whose next_run_utc has passed.
func (s *Store) DueTasks(ctx context.Context, asOf time.Time) ([]models.ScheduledTask, error) {
	var rows []scheduledTaskRow
	err := s.g.From("scheduled_tasks").
		Where(goqu.C("status").Eq(string(models.ScheduleActive)), goqu.C("next_run_utc").Lte(asOf)).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("%w: due tasks: %v", apperrors.ErrTransientIO, err)
	}
	out := make([]models.ScheduledTask, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// RescheduleRetry advances next_run_utc to a backoff retry time without
// touching the consecutive-failure streak, so the circuit breaker still
// sees the accumulated count on the next failure.
func (s *Store) RescheduleRetry(ctx context.Context, id string, nextRunUTC time.Time, nextRunLocal string) error {
	_, err := s.g.Update("scheduled_tasks").Set(goqu.Record{
		"next_run_utc":   nextRunUTC,
		"next_run_local": nextRunLocal,
	}).Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: reschedule retry for task %s: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// RescheduleRecurring advances a cron task's next_run_utc after a
// successful fire and resets its failure streak.
func (s *Store) RescheduleRecurring(ctx context.Context, id string, nextRunUTC time.Time, nextRunLocal string) error {
	_, err := s.g.Update("scheduled_tasks").Set(goqu.Record{
		"next_run_utc":         nextRunUTC,
		"next_run_local":       nextRunLocal,
		"consecutive_failures": 0,
		"retry_count":          0,
	}).Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: reschedule task %s: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// CompleteOnce marks a one-shot (`once:`) task completed after it fires,
// so it never fires again and no longer occupies the duplicate-key slot.
func (s *Store) CompleteOnce(ctx context.Context, id string) error {
	_, err := s.g.Update("scheduled_tasks").
		Set(goqu.Record{"status": string(models.ScheduleCompleted)}).
		Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: complete one-shot task %s: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// RecordFailure increments a task's retry/failure counters. If
// ConsecutiveFailures reaches 3, the caller's scheduler layer is
// responsible for pausing the task (status=paused) and alerting.
func (s *Store) RecordFailure(ctx context.Context, id string) (models.ScheduledTask, error) {
	_, err := s.g.Update("scheduled_tasks").Set(goqu.Record{
		"retry_count":          goqu.L("retry_count + 1"),
		"consecutive_failures": goqu.L("consecutive_failures + 1"),
	}).Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return models.ScheduledTask{}, fmt.Errorf("%w: record failure for task %s: %v", apperrors.ErrTransientIO, id, err)
	}

	var row scheduledTaskRow
	found, err := s.g.From("scheduled_tasks").Where(goqu.C("id").Eq(id)).ScanStructContext(ctx, &row)
	if err != nil {
		return models.ScheduledTask{}, fmt.Errorf("%w: reload task %s: %v", apperrors.ErrTransientIO, id, err)
	}
	if !found {
		return models.ScheduledTask{}, fmt.Errorf("%w: task %s not found", apperrors.ErrScheduleBrokenTask, id)
	}
	return row.toModel(), nil
}

// PauseTask sets a task's status to paused and stamps disabled_at, used
// by the scheduler's circuit breaker after 3 consecutive failures.
func (s *Store) PauseTask(ctx context.Context, id string, at time.Time) error {
	_, err := s.g.Update("scheduled_tasks").Set(goqu.Record{
		"status":      string(models.SchedulePaused),
		"disabled_at": at,
	}).Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: pause task %s: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// ExistsActiveDuplicate reports whether an active task already holds the
// given duplicate key.
func (s *Store) ExistsActiveDuplicate(ctx context.Context, duplicateKey string) (bool, error) {
	count, err := s.g.From("scheduled_tasks").
		Where(goqu.C("duplicate_key").Eq(duplicateKey), goqu.C("status").Eq(string(models.ScheduleActive))).
		CountContext(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: check duplicate task: %v", apperrors.ErrTransientIO, err)
	}
	return count > 0, nil
}
