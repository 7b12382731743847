package store

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/models"
)

type groupRow struct {
	Name          string `db:"name"`
	IsMain        bool   `db:"is_main"`
	WorkspacePath string `db:"workspace_path"`
	SystemPrompt  string `db:"system_prompt"`
	UserModelPath string `db:"user_model_path"`
	SkillsPath    string `db:"skills_path"`
	IPCNamespace  string `db:"ipc_namespace"`
}

func (r groupRow) toModel() models.Group {
	return models.Group{
		Name:          r.Name,
		IsMain:        r.IsMain,
		WorkspacePath: r.WorkspacePath,
		SystemPrompt:  r.SystemPrompt,
		UserModelPath: r.UserModelPath,
		SkillsPath:    r.SkillsPath,
		IPCNamespace:  r.IPCNamespace,
	}
}

// UpsertGroup inserts or replaces a group definition, as loaded from the
// on-disk groups directory at startup.
func (s *Store) UpsertGroup(ctx context.Context, g models.Group) error {
	record := goqu.Record{
		"name":            g.Name,
		"is_main":         g.IsMain,
		"workspace_path":  g.WorkspacePath,
		"system_prompt":   g.SystemPrompt,
		"user_model_path": g.UserModelPath,
		"skills_path":     g.SkillsPath,
		"ipc_namespace":   g.IPCNamespace,
	}
	_, err := s.g.Insert("groups").Rows(record).
		OnConflict(goqu.DoUpdate("name", record)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: upsert group %s: %v", apperrors.ErrTransientIO, g.Name, err)
	}
	return nil
}

// GetGroup looks up a group by name.
func (s *Store) GetGroup(ctx context.Context, name string) (models.Group, error) {
	var row groupRow
	found, err := s.g.From("groups").Where(goqu.C("name").Eq(name)).ScanStructContext(ctx, &row)
	if err != nil {
		return models.Group{}, fmt.Errorf("%w: get group %s: %v", apperrors.ErrTransientIO, name, err)
	}
	if !found {
		return models.Group{}, fmt.Errorf("%w: group %s not found", apperrors.ErrBadInput, name)
	}
	return row.toModel(), nil
}

// MainGroup returns the single group with is_main=true.
func (s *Store) MainGroup(ctx context.Context) (models.Group, error) {
	var row groupRow
	found, err := s.g.From("groups").Where(goqu.C("is_main").Eq(true)).ScanStructContext(ctx, &row)
	if err != nil {
		return models.Group{}, fmt.Errorf("%w: get main group: %v", apperrors.ErrTransientIO, err)
	}
	if !found {
		return models.Group{}, fmt.Errorf("%w: no main group configured", apperrors.ErrBadInput)
	}
	return row.toModel(), nil
}

// ListGroups returns every known group.
func (s *Store) ListGroups(ctx context.Context) ([]models.Group, error) {
	var rows []groupRow
	if err := s.g.From("groups").ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: list groups: %v", apperrors.ErrTransientIO, err)
	}
	out := make([]models.Group, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}
