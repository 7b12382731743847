package store

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/models"
)

type chunkRow struct {
	ID             string `db:"id"`
	DocumentID     string `db:"document_id"`
	Index          int    `db:"idx"`
	Total          int    `db:"total"`
	Content        string `db:"content"`
	TokenCount     int    `db:"token_count"`
	EmbeddingModel string `db:"embedding_model"`
}

func (r chunkRow) toModel() models.Chunk {
	return models.Chunk{
		ID:             r.ID,
		DocumentID:     r.DocumentID,
		Index:          r.Index,
		Total:          r.Total,
		Content:        r.Content,
		TokenCount:     r.TokenCount,
		EmbeddingModel: r.EmbeddingModel,
	}
}

// ReplaceChunks deletes every existing chunk for a document and inserts
// the given set, atomically, so a re-chunk never leaves stale fragments
// behind.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin replace chunks for %s: %v", apperrors.ErrTransientIO, documentID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("%w: clear chunks for %s: %v", apperrors.ErrTransientIO, documentID, err)
	}

	for _, c := range chunks {
		insertSQL, args, err := s.g.Insert("chunks").Rows(goqu.Record{
			"id":              c.ID,
			"document_id":     documentID,
			"idx":             c.Index,
			"total":           c.Total,
			"content":         c.Content,
			"token_count":     c.TokenCount,
			"embedding_model": c.EmbeddingModel,
		}).ToSQL()
		if err != nil {
			return fmt.Errorf("build chunk insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
			return fmt.Errorf("%w: insert chunk %s: %v", apperrors.ErrTransientIO, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit replace chunks for %s: %v", apperrors.ErrTransientIO, documentID, err)
	}
	return nil
}

// ChunksForDocument returns every chunk belonging to a document, ordered
// by index.
func (s *Store) ChunksForDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	var rows []chunkRow
	err := s.g.From("chunks").
		Where(goqu.C("document_id").Eq(documentID)).
		Order(goqu.C("idx").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("%w: chunks for document %s: %v", apperrors.ErrTransientIO, documentID, err)
	}
	out := make([]models.Chunk, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ChunksByIDs batch-loads chunks by id, used to resolve vector-search hits
// (which return chunk ids) back into content for re-ranking.
func (s *Store) ChunksByIDs(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	var rows []chunkRow
	if err := s.g.From("chunks").Where(goqu.C("id").In(anyIDs...)).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: chunks by ids: %v", apperrors.ErrTransientIO, err)
	}
	out := make([]models.Chunk, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}
