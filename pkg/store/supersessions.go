package store

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/models"
)

type supersessionRow struct {
	ID       int64     `db:"id"`
	OldDocID string    `db:"old_doc_id"`
	NewDocID string    `db:"new_doc_id"`
	Reason   string    `db:"reason"`
	At       time.Time `db:"at"`
	By       string    `db:"by"`
}

func (r supersessionRow) toModel() models.Supersession {
	return models.Supersession{
		ID:       r.ID,
		OldDocID: r.OldDocID,
		NewDocID: r.NewDocID,
		Reason:   r.Reason,
		At:       r.At,
		By:       r.By,
	}
}

// RecordSupersession appends a supersession pair and marks the old
// document as superseded. The old document's row is never deleted, only
// flagged: supersession is append-only history, not a rewrite.
func (s *Store) RecordSupersession(ctx context.Context, sup models.Supersession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin record supersession: %v", apperrors.ErrTransientIO, err)
	}
	defer tx.Rollback()

	insertSQL, args, err := s.g.Insert("supersessions").Rows(goqu.Record{
		"old_doc_id": sup.OldDocID,
		"new_doc_id": sup.NewDocID,
		"reason":     sup.Reason,
		"at":         sup.At,
		"by":         sup.By,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build supersession insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
		return fmt.Errorf("%w: insert supersession: %v", apperrors.ErrTransientIO, err)
	}

	updateSQL, uargs, err := s.g.Update("documents").
		Set(goqu.Record{"superseded_by": sup.NewDocID, "updated_at": sup.At}).
		Where(goqu.C("id").Eq(sup.OldDocID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build document supersede update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, updateSQL, uargs...); err != nil {
		return fmt.Errorf("%w: mark document %s superseded: %v", apperrors.ErrTransientIO, sup.OldDocID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit record supersession: %v", apperrors.ErrTransientIO, err)
	}
	return nil
}

// SupersessionHistory returns every supersession touching a document,
// either as the old or new side, newest first.
func (s *Store) SupersessionHistory(ctx context.Context, documentID string) ([]models.Supersession, error) {
	var rows []supersessionRow
	err := s.g.From("supersessions").
		Where(goqu.Or(goqu.C("old_doc_id").Eq(documentID), goqu.C("new_doc_id").Eq(documentID))).
		Order(goqu.C("at").Desc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("%w: supersession history for %s: %v", apperrors.ErrTransientIO, documentID, err)
	}
	out := make([]models.Supersession, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}
