package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/models"
)

type containerRow struct {
	ID            string    `db:"id"`
	GroupID       string    `db:"group_id"`
	StartedAt     time.Time `db:"started_at"`
	LastHeartbeat time.Time `db:"last_heartbeat"`
	Status        string    `db:"status"`
	ReuseCount    int       `db:"reuse_count"`
	Labels        string    `db:"labels"`
	SessionID     string    `db:"session_id"`
}

func (r containerRow) toModel() (models.ContainerRecord, error) {
	labels := map[string]string{}
	if r.Labels != "" {
		if err := json.Unmarshal([]byte(r.Labels), &labels); err != nil {
			return models.ContainerRecord{}, fmt.Errorf("decode container labels for %s: %w", r.ID, err)
		}
	}
	return models.ContainerRecord{
		ID:            r.ID,
		GroupID:       r.GroupID,
		StartedAt:     r.StartedAt,
		LastHeartbeat: r.LastHeartbeat,
		Status:        models.ContainerStatus(r.Status),
		ReuseCount:    r.ReuseCount,
		Labels:        labels,
		SessionID:     r.SessionID,
	}, nil
}

// InsertContainer records a newly spawned container.
func (s *Store) InsertContainer(ctx context.Context, c models.ContainerRecord) error {
	labels, err := json.Marshal(c.Labels)
	if err != nil {
		return fmt.Errorf("encode container labels: %w", err)
	}
	_, err = s.g.Insert("container_records").Rows(goqu.Record{
		"id":             c.ID,
		"group_id":       c.GroupID,
		"started_at":     c.StartedAt,
		"last_heartbeat": c.LastHeartbeat,
		"status":         string(c.Status),
		"reuse_count":    c.ReuseCount,
		"labels":         string(labels),
		"session_id":     c.SessionID,
	}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: insert container %s: %v", apperrors.ErrTransientIO, c.ID, err)
	}
	return nil
}

// SetContainerStatus updates a container's lifecycle status.
func (s *Store) SetContainerStatus(ctx context.Context, id string, status models.ContainerStatus) error {
	_, err := s.g.Update("container_records").
		Set(goqu.Record{"status": string(status)}).
		Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: set container %s status: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// ReassignGroup repurposes an idle container for a different group, used
// when the warm pool hands out a ready container from one group to
// another rather than cold-spawning.
func (s *Store) ReassignGroup(ctx context.Context, id, groupID string) error {
	_, err := s.g.Update("container_records").
		Set(goqu.Record{"group_id": groupID}).
		Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: reassign container %s to group %s: %v", apperrors.ErrTransientIO, id, groupID, err)
	}
	return nil
}

// Heartbeat stamps a container's last_heartbeat to now.
func (s *Store) Heartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := s.g.Update("container_records").
		Set(goqu.Record{"last_heartbeat": at}).
		Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: heartbeat container %s: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// IncrementReuse bumps a container's reuse_count, used when the warm pool
// hands it out again without a cold start.
func (s *Store) IncrementReuse(ctx context.Context, id string) error {
	_, err := s.g.Update("container_records").
		Set(goqu.Record{"reuse_count": goqu.L("reuse_count + 1")}).
		Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: increment reuse for container %s: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// IdleContainers returns every ready container for a group, ordered
// oldest-first (spec §4.4 acquisition order: warm idle before cold spawn).
func (s *Store) IdleContainers(ctx context.Context, groupID string) ([]models.ContainerRecord, error) {
	var rows []containerRow
	err := s.g.From("container_records").
		Where(goqu.C("group_id").Eq(groupID), goqu.C("status").Eq(string(models.ContainerReady))).
		Order(goqu.C("started_at").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("%w: idle containers for group %s: %v", apperrors.ErrTransientIO, groupID, err)
	}
	out := make([]models.ContainerRecord, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// StaleHeartbeats returns containers whose last_heartbeat is older than
// cutoff and whose status is not already stuck or stopped, for the
// stuck-container detector.
func (s *Store) StaleHeartbeats(ctx context.Context, cutoff time.Time) ([]models.ContainerRecord, error) {
	var rows []containerRow
	err := s.g.From("container_records").
		Where(
			goqu.C("last_heartbeat").Lt(cutoff),
			goqu.C("status").In(string(models.ContainerInUse), string(models.ContainerWarming)),
		).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("%w: stale heartbeats: %v", apperrors.ErrTransientIO, err)
	}
	out := make([]models.ContainerRecord, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// AllNonTerminal returns every container not yet stopped, used at startup
// to reconcile store records against what the container runtime actually
// reports (orphan sweep).
func (s *Store) AllNonTerminal(ctx context.Context) ([]models.ContainerRecord, error) {
	var rows []containerRow
	err := s.g.From("container_records").
		Where(goqu.C("status").Neq(string(models.ContainerStopped))).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("%w: list non-terminal containers: %v", apperrors.ErrTransientIO, err)
	}
	out := make([]models.ContainerRecord, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
