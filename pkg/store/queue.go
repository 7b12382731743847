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

type queueEntryRow struct {
	ID          string         `db:"id"`
	GroupID     string         `db:"group_id"`
	Priority    string         `db:"priority"`
	MessageID   int64          `db:"message_id"`
	Status      string         `db:"status"`
	ContainerID string         `db:"container_id"`
	EnqueuedAt  time.Time      `db:"enqueued_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	FinishedAt  sql.NullTime   `db:"finished_at"`
	RetryCount  int            `db:"retry_count"`
	LastError   string         `db:"last_error"`
}

func (r queueEntryRow) toModel() models.QueueEntry {
	e := models.QueueEntry{
		ID:          r.ID,
		GroupID:     r.GroupID,
		Priority:    models.Priority(r.Priority),
		MessageID:   r.MessageID,
		Status:      models.QueueStatus(r.Status),
		ContainerID: r.ContainerID,
		EnqueuedAt:  r.EnqueuedAt,
		RetryCount:  r.RetryCount,
		LastError:   r.LastError,
	}
	if r.StartedAt.Valid {
		e.StartedAt = &r.StartedAt.Time
	}
	if r.FinishedAt.Valid {
		e.FinishedAt = &r.FinishedAt.Time
	}
	return e
}

// EnqueueMessage inserts a new waiting queue entry for a message.
func (s *Store) EnqueueMessage(ctx context.Context, e models.QueueEntry) error {
	_, err := s.g.Insert("queue_entries").Rows(goqu.Record{
		"id":           e.ID,
		"group_id":     e.GroupID,
		"priority":     string(e.Priority),
		"message_id":   e.MessageID,
		"status":       string(models.QueueWaiting),
		"container_id": e.ContainerID,
		"enqueued_at":  e.EnqueuedAt,
		"retry_count":  0,
		"last_error":   "",
	}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: enqueue message %d for group %s: %v", apperrors.ErrTransientIO, e.MessageID, e.GroupID, err)
	}
	return nil
}

// NextWaiting returns the highest-priority, oldest waiting entry for a
// group, or (models.QueueEntry{}, false, nil) if the group queue is empty.
func (s *Store) NextWaiting(ctx context.Context, groupID string) (models.QueueEntry, bool, error) {
	var rows []queueEntryRow
	err := s.g.From("queue_entries").
		Where(goqu.C("group_id").Eq(groupID), goqu.C("status").Eq(string(models.QueueWaiting))).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return models.QueueEntry{}, false, fmt.Errorf("%w: next waiting for group %s: %v", apperrors.ErrTransientIO, groupID, err)
	}
	if len(rows) == 0 {
		return models.QueueEntry{}, false, nil
	}

	best := rows[0]
	for _, r := range rows[1:] {
		if models.Less(models.Priority(r.Priority), r.EnqueuedAt, models.Priority(best.Priority), best.EnqueuedAt) {
			best = r
		}
	}
	return best.toModel(), true, nil
}

// MarkActive transitions an entry to active and records the container and
// start time.
func (s *Store) MarkActive(ctx context.Context, id, containerID string, startedAt time.Time) error {
	_, err := s.g.Update("queue_entries").Set(goqu.Record{
		"status":       string(models.QueueActive),
		"container_id": containerID,
		"started_at":   startedAt,
	}).Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: mark queue entry %s active: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// MarkFinished transitions an entry to completed or failed.
func (s *Store) MarkFinished(ctx context.Context, id string, status models.QueueStatus, lastError string, finishedAt time.Time) error {
	_, err := s.g.Update("queue_entries").Set(goqu.Record{
		"status":      string(status),
		"finished_at": finishedAt,
		"last_error":  lastError,
	}).Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: mark queue entry %s finished: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// IncrementRetry bumps the retry counter on a queue entry and returns it
// to waiting status for a re-attempt.
func (s *Store) IncrementRetry(ctx context.Context, id string, lastError string) error {
	_, err := s.g.Update("queue_entries").
		Set(goqu.Record{
			"status":      string(models.QueueWaiting),
			"retry_count": goqu.L("retry_count + 1"),
			"last_error":  lastError,
		}).
		Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: increment retry for queue entry %s: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// ReclaimStuckActive resets every entry left in-flight (status=active)
// against a container that no longer exists back to waiting, run once at
// startup to recover from an unclean shutdown.
func (s *Store) ReclaimStuckActive(ctx context.Context) (int64, error) {
	result, err := s.g.Update("queue_entries").
		Set(goqu.Record{"status": string(models.QueueWaiting), "container_id": ""}).
		Where(goqu.C("status").Eq(string(models.QueueActive))).
		Executor().ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: reclaim stuck queue entries: %v", apperrors.ErrTransientIO, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: reclaim rows affected: %v", apperrors.ErrTransientIO, err)
	}
	return n, nil
}

// QueueDepth returns the number of waiting+active entries for a group,
// used for backpressure decisions.
func (s *Store) QueueDepth(ctx context.Context, groupID string) (int64, error) {
	count, err := s.g.From("queue_entries").
		Where(goqu.C("group_id").Eq(groupID), goqu.C("status").In(string(models.QueueWaiting), string(models.QueueActive))).
		CountContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: queue depth for group %s: %v", apperrors.ErrTransientIO, groupID, err)
	}
	return count, nil
}
