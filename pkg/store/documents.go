package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/models"
)

type documentRow struct {
	ID           string       `db:"id"`
	Type         string       `db:"type"`
	SourcePath   string       `db:"source_path"`
	Title        string       `db:"title"`
	Content      string       `db:"content"`
	Concepts     string       `db:"concepts"`
	Project      string       `db:"project"`
	CreatedBy    string       `db:"created_by"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
	SupersededBy string       `db:"superseded_by"`
	Layer        string       `db:"layer"`
	SyncStatus   string       `db:"sync_status"`
	SyncAttempts int          `db:"sync_attempts"`
	LastAccess   time.Time    `db:"last_access"`
	AccessCount  int          `db:"access_count"`
	DecayScore   float64      `db:"decay_score"`
	ExpiresAt    sql.NullTime `db:"expires_at"`
	Metadata     string       `db:"metadata"`
}

func (r documentRow) toModel() (models.Document, error) {
	var concepts []string
	if r.Concepts != "" {
		if err := json.Unmarshal([]byte(r.Concepts), &concepts); err != nil {
			return models.Document{}, fmt.Errorf("decode concepts for %s: %w", r.ID, err)
		}
	}
	meta := map[string]any{}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			return models.Document{}, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
		}
	}
	d := models.Document{
		ID:           r.ID,
		Type:         models.DocumentType(r.Type),
		SourcePath:   r.SourcePath,
		Title:        r.Title,
		Content:      r.Content,
		Concepts:     concepts,
		Project:      r.Project,
		CreatedBy:    models.CreatedBy(r.CreatedBy),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		SupersededBy: r.SupersededBy,
		Layer:        models.MemoryLayer(r.Layer),
		SyncStatus:   models.SyncStatus(r.SyncStatus),
		SyncAttempts: r.SyncAttempts,
		LastAccess:   r.LastAccess,
		AccessCount:  r.AccessCount,
		DecayScore:   r.DecayScore,
		Metadata:     meta,
	}
	if r.ExpiresAt.Valid {
		d.ExpiresAt = &r.ExpiresAt.Time
	}
	return d, nil
}

// UpsertDocument inserts or replaces a document and keeps the documents_fts
// shadow table (used for bm25() lexical search) in sync in the same
// transaction.
func (s *Store) UpsertDocument(ctx context.Context, d models.Document) error {
	concepts, err := json.Marshal(d.Concepts)
	if err != nil {
		return fmt.Errorf("encode concepts: %w", err)
	}
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin upsert document %s: %v", apperrors.ErrTransientIO, d.ID, err)
	}
	defer tx.Rollback()

	record := goqu.Record{
		"id":            d.ID,
		"type":          string(d.Type),
		"source_path":   d.SourcePath,
		"title":         d.Title,
		"content":       d.Content,
		"concepts":      string(concepts),
		"project":       d.Project,
		"created_by":    string(d.CreatedBy),
		"created_at":    d.CreatedAt,
		"updated_at":    d.UpdatedAt,
		"superseded_by": d.SupersededBy,
		"layer":         string(d.Layer),
		"sync_status":   string(d.SyncStatus),
		"sync_attempts": d.SyncAttempts,
		"last_access":   d.LastAccess,
		"access_count":  d.AccessCount,
		"decay_score":   d.DecayScore,
		"expires_at":    nullableTimePtr(d.ExpiresAt),
		"metadata":      string(meta),
	}

	insertSQL, args, err := s.g.Insert("documents").Rows(record).
		OnConflict(goqu.DoUpdate("id", record)).ToSQL()
	if err != nil {
		return fmt.Errorf("build document upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
		return fmt.Errorf("%w: upsert document %s: %v", apperrors.ErrTransientIO, d.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE id = ?`, d.ID); err != nil {
		return fmt.Errorf("%w: clear fts row for %s: %v", apperrors.ErrTransientIO, d.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents_fts (id, title, content, concepts) VALUES (?, ?, ?, ?)`,
		d.ID, d.Title, d.Content, strings.Join(d.Concepts, " "),
	); err != nil {
		return fmt.Errorf("%w: index fts row for %s: %v", apperrors.ErrTransientIO, d.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit upsert document %s: %v", apperrors.ErrTransientIO, d.ID, err)
	}
	return nil
}

// GetDocument looks up a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (models.Document, error) {
	var row documentRow
	found, err := s.g.From("documents").Where(goqu.C("id").Eq(id)).ScanStructContext(ctx, &row)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: get document %s: %v", apperrors.ErrTransientIO, id, err)
	}
	if !found {
		return models.Document{}, fmt.Errorf("%w: document %s not found", apperrors.ErrBadInput, id)
	}
	return row.toModel()
}

// TouchAccess bumps a document's last_access and access_count, used on
// every retrieval so episodic decay scoring has fresh signal.
func (s *Store) TouchAccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.g.Update("documents").Set(goqu.Record{
		"last_access":  at,
		"access_count": goqu.L("access_count + 1"),
	}).Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: touch access for document %s: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// LexicalSearchHit is one bm25-ranked row out of documents_fts.
type LexicalSearchHit struct {
	DocumentID string
	BM25       float64
}

// LexicalSearch runs the FTS5 bm25() ranking function over documents_fts,
// optionally scoped to a project, and returns the top `limit` hits ordered
// best-first (bm25 is negative; more negative is a better match).
func (s *Store) LexicalSearch(ctx context.Context, query, project string, limit int) ([]LexicalSearchHit, error) {
	args := []any{query}
	sqlQuery := `
		SELECT f.id, bm25(documents_fts) AS score
		FROM documents_fts f
		JOIN documents d ON d.id = f.id
		WHERE documents_fts MATCH ?`
	if project != "" {
		sqlQuery += ` AND d.project = ?`
		args = append(args, project)
	}
	sqlQuery += ` ORDER BY score ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: lexical search: %v", apperrors.ErrKnowledgeUnavailable, err)
	}
	defer rows.Close()

	var hits []LexicalSearchHit
	for rows.Next() {
		var h LexicalSearchHit
		if err := rows.Scan(&h.DocumentID, &h.BM25); err != nil {
			return nil, fmt.Errorf("%w: scan lexical hit: %v", apperrors.ErrKnowledgeUnavailable, err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SubstringSearch runs a plain LIKE '%...%' scan over documents.title/
// content, used when an FTS5 query itself errors (e.g. a malformed MATCH
// expression slipping past the sanitiser). It returns BM25 unset (0 for
// every hit, all tied) since there is no ranking signal available here.
func (s *Store) SubstringSearch(ctx context.Context, query, project string, limit int) ([]LexicalSearchHit, error) {
	like := "%" + query + "%"
	args := []any{like, like}
	sqlQuery := `
		SELECT id FROM documents
		WHERE (title LIKE ? OR content LIKE ?)`
	if project != "" {
		sqlQuery += ` AND project = ?`
		args = append(args, project)
	}
	sqlQuery += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: substring search: %v", apperrors.ErrKnowledgeUnavailable, err)
	}
	defer rows.Close()

	var hits []LexicalSearchHit
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan substring hit: %v", apperrors.ErrKnowledgeUnavailable, err)
		}
		hits = append(hits, LexicalSearchHit{DocumentID: id})
	}
	return hits, rows.Err()
}

// ListDocuments returns documents newest-first, optionally filtered by
// type, for the /api/list endpoint.
func (s *Store) ListDocuments(ctx context.Context, docType models.DocumentType, limit, offset int) ([]models.Document, error) {
	ds := s.g.From("documents")
	if docType != "" {
		ds = ds.Where(goqu.C("type").Eq(string(docType)))
	}
	ds = ds.Order(goqu.C("updated_at").Desc()).Limit(uint(limit)).Offset(uint(offset))

	var rows []documentRow
	if err := ds.ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", apperrors.ErrTransientIO, err)
	}
	docs := make([]models.Document, 0, len(rows))
	for _, r := range rows {
		d, err := r.toModel()
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// DocumentCounts returns the number of documents of each type, for the
// /api/stats endpoint.
func (s *Store) DocumentCounts(ctx context.Context) (map[models.DocumentType]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM documents GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("%w: count documents by type: %v", apperrors.ErrTransientIO, err)
	}
	defer rows.Close()

	counts := make(map[models.DocumentType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("%w: scan document count row: %v", apperrors.ErrTransientIO, err)
		}
		counts[models.DocumentType(t)] = n
	}
	return counts, rows.Err()
}

// DeleteIndexerDocuments deletes every document with created_by=indexer
// scoped to the given project (or all projects if project is ""), as the
// first step of a full re-index. Rows written via the learn API are never
// touched by this path.
func (s *Store) DeleteIndexerDocuments(ctx context.Context, project string) error {
	ds := s.g.Delete("documents").Where(goqu.C("created_by").Eq(string(models.CreatedByIndexer)))
	if project != "" {
		ds = ds.Where(goqu.C("project").Eq(project))
	}
	if _, err := ds.Executor().ExecContext(ctx); err != nil {
		return fmt.Errorf("%w: delete indexer documents for project %q: %v", apperrors.ErrTransientIO, project, err)
	}
	// documents_fts rows for these ids disappear too: chunks cascade via FK,
	// fts rows are cleaned lazily by UpsertDocument's delete-then-insert, so
	// reclaim them directly here since no re-insert will happen for them.
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM documents_fts WHERE id NOT IN (SELECT id FROM documents)
	`); err != nil {
		return fmt.Errorf("%w: vacuum orphaned fts rows: %v", apperrors.ErrTransientIO, err)
	}
	return nil
}

// DeleteDocument removes a single document row (chunks cascade via FK) and
// reclaims its FTS row. Vector cleanup is the caller's responsibility
// (vectorstore.DeleteByDocument) since the store has no vector store handle.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.g.Delete("documents").Where(goqu.C("id").Eq(id)).Executor().ExecContext(ctx); err != nil {
		return fmt.Errorf("%w: delete document %s: %v", apperrors.ErrTransientIO, id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: vacuum fts row for %s: %v", apperrors.ErrTransientIO, id, err)
	}
	return nil
}

// DocumentsBySyncStatus returns up to limit documents in the given
// sync_status, oldest-updated first, so a reconciler works through the
// longest-stuck failures first.
func (s *Store) DocumentsBySyncStatus(ctx context.Context, status models.SyncStatus, limit int) ([]models.Document, error) {
	ds := s.g.From("documents").
		Where(goqu.C("sync_status").Eq(string(status))).
		Order(goqu.C("updated_at").Asc()).
		Limit(uint(limit))

	var rows []documentRow
	if err := ds.ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: list documents by sync status %q: %v", apperrors.ErrTransientIO, status, err)
	}
	docs := make([]models.Document, 0, len(rows))
	for _, r := range rows {
		d, err := r.toModel()
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
