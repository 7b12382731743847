// Package indexer watches the knowledge root for filesystem changes and
// keeps the store's documents/chunks/vectors in sync with it (spec §4.2
// Indexer).
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/knowledge/chunk"
	"github.com/hearth-ai/assistant/pkg/knowledge/embed"
	"github.com/hearth-ai/assistant/pkg/knowledge/projectref"
	"github.com/hearth-ai/assistant/pkg/knowledge/vectorstore"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

const debounceWindow = 300 * time.Millisecond

// frontMatter is the YAML header every knowledge-root document carries.
type frontMatter struct {
	Type     string   `yaml:"type"`
	Project  string   `yaml:"project"`
	Concepts []string `yaml:"concepts"`
	Title    string   `yaml:"title"`
}

// Indexer watches Root for changes and reconciles the store and vector
// store against what it finds on disk.
type Indexer struct {
	Root        string
	Store       *store.Store
	VectorStore *vectorstore.Store
	Splitter    *chunk.Splitter
	Embedder    embed.Embedder
	Log         *slog.Logger

	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
}

func New(root string, st *store.Store, vs *vectorstore.Store, splitter *chunk.Splitter, embedder embed.Embedder, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		Root: root, Store: st, VectorStore: vs, Splitter: splitter, Embedder: embedder,
		Log: log.With("component", "indexer"), pending: map[string]*time.Timer{},
	}
}

// Run starts the fsnotify watch loop, blocking until ctx is cancelled.
// Each filesystem event debounces for 300ms (coalescing the create+rename
// pairs many editors produce) before the file is actually reprocessed.
func (idx *Indexer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	idx.watcher = watcher

	if err := filepath.WalkDir(idx.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk knowledge root %s: %w", idx.Root, err)
	}

	events := make(chan string, 64)
	go idx.debounceLoop(ctx, events)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				events <- ev.Name
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			idx.Log.Warn("fsnotify watcher error", "error", err)
		}
	}
}

func (idx *Indexer) debounceLoop(ctx context.Context, events <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-events:
			if t, ok := idx.pending[path]; ok {
				t.Stop()
			}
			idx.pending[path] = time.AfterFunc(debounceWindow, func() {
				if err := idx.reindexFile(ctx, path); err != nil {
					idx.Log.Warn("reindex failed", "path", path, "error", err)
				}
			})
		}
	}
}

func (idx *Indexer) reindexFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // deleted between the event firing and the debounce elapsing
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	fm, content, err := parseFrontMatter(raw)
	if err != nil {
		return fmt.Errorf("parse front matter in %s: %w", path, err)
	}

	project := ""
	if fm.Project != "" {
		project, err = projectref.Normalize(fm.Project)
		if err != nil {
			return fmt.Errorf("normalize project in %s: %w", path, err)
		}
	}

	now := time.Now().UTC()
	docID := documentID(path)

	doc := models.Document{
		ID:         docID,
		Type:       models.DocumentType(fm.Type),
		SourcePath: path,
		Title:      fm.Title,
		Content:    content,
		Concepts:   fm.Concepts,
		Project:    project,
		CreatedBy:  models.CreatedByIndexer,
		CreatedAt:  now,
		UpdatedAt:  now,
		Layer:      models.LayerSemantic,
		SyncStatus: models.SyncPending,
		LastAccess: now,
		DecayScore: 1,
	}

	if existing, err := idx.Store.GetDocument(ctx, docID); err == nil {
		doc.CreatedAt = existing.CreatedAt
		doc.AccessCount = existing.AccessCount
	}

	if err := idx.Store.UpsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("upsert document %s: %w", docID, err)
	}

	return idx.syncChunksAndVectors(ctx, doc)
}

// syncChunksAndVectors re-chunks, embeds, and upserts a document's
// vectors, then reconciles sync_status. Never delete-then-insert on the
// document row itself — only its chunk/vector children are replaced.
func (idx *Indexer) syncChunksAndVectors(ctx context.Context, doc models.Document) error {
	chunks, err := idx.Splitter.Split(ctx, doc.ID, doc.Content, containsThaiTitle(doc.Title))
	if err != nil {
		return idx.markSyncFailed(ctx, doc.ID, fmt.Errorf("split document %s: %w", doc.ID, err))
	}
	if err := idx.Store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return idx.markSyncFailed(ctx, doc.ID, err)
	}

	if idx.Embedder == nil || idx.VectorStore == nil || len(chunks) == 0 {
		return idx.markSynced(ctx, doc.ID)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := idx.Embedder.Embed(ctx, texts)
	if err != nil {
		return idx.markSyncFailed(ctx, doc.ID, fmt.Errorf("%w: embed document %s: %v", apperrors.ErrKnowledgeUnavailable, doc.ID, err))
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{ChunkID: c.ID, DocumentID: doc.ID, Index: c.Index, Vector: vectors[i]}
	}
	if err := idx.VectorStore.Upsert(ctx, points); err != nil {
		return idx.markSyncFailed(ctx, doc.ID, fmt.Errorf("%w: upsert vectors for %s: %v", apperrors.ErrKnowledgeUnavailable, doc.ID, err))
	}

	return idx.markSynced(ctx, doc.ID)
}

func (idx *Indexer) markSynced(ctx context.Context, docID string) error {
	doc, err := idx.Store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	doc.SyncStatus = models.SyncSynced
	doc.SyncAttempts = 0
	return idx.Store.UpsertDocument(ctx, doc)
}

func (idx *Indexer) markSyncFailed(ctx context.Context, docID string, cause error) error {
	doc, err := idx.Store.GetDocument(ctx, docID)
	if err == nil {
		doc.SyncStatus = models.SyncFailed
		doc.SyncAttempts++
		doc.UpdatedAt = time.Now().UTC()
		_ = idx.Store.UpsertDocument(ctx, doc)
	}
	return cause
}

// reconcileBackoff is the delay required since a failed document's last
// attempt before Reconcile will retry it again, indexed by SyncAttempts-1.
// Once SyncAttempts exceeds len(reconcileBackoff) the document is left
// failed permanently; it only recovers via a fresh write (indexer pickup
// or Rebuild).
var reconcileBackoff = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const reconcileBatchSize = 50

// Reconcile retries every document left in sync_status=failed, up to
// len(reconcileBackoff) attempts, with exponential backoff since each
// document's last attempt. Intended to run on a ticker from the caller
// (spec §4.2/§9: a background reconciler).
func (idx *Indexer) Reconcile(ctx context.Context) {
	docs, err := idx.Store.DocumentsBySyncStatus(ctx, models.SyncFailed, reconcileBatchSize)
	if err != nil {
		idx.Log.Warn("reconcile: list failed documents", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, doc := range docs {
		if doc.SyncAttempts >= len(reconcileBackoff) {
			continue
		}
		if now.Sub(doc.UpdatedAt) < reconcileBackoff[doc.SyncAttempts] {
			continue
		}
		if err := idx.syncChunksAndVectors(ctx, doc); err != nil {
			idx.Log.Warn("reconcile: retry failed", "document_id", doc.ID, "attempt", doc.SyncAttempts+1, "error", err)
			continue
		}
		idx.Log.Info("reconcile: document resynced", "document_id", doc.ID)
	}
}

// Rebuild performs a full re-index of the knowledge root: delete every
// created_by=indexer document scoped to project (or all projects), then
// walk the tree and reindex everything found. Learn-API documents are
// never touched.
func (idx *Indexer) Rebuild(ctx context.Context, project string) error {
	if err := idx.Store.DeleteIndexerDocuments(ctx, project); err != nil {
		return fmt.Errorf("clear indexer documents for rebuild: %w", err)
	}

	return filepath.WalkDir(idx.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return idx.reindexFile(ctx, path)
	})
}

func parseFrontMatter(raw []byte) (frontMatter, string, error) {
	text := string(raw)
	if !strings.HasPrefix(text, "---\n") {
		return frontMatter{}, text, nil
	}

	rest := text[4:]
	end := strings.Index(rest, "\n---\n")
	if end == -1 {
		return frontMatter{}, text, fmt.Errorf("unterminated front matter")
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontMatter{}, "", fmt.Errorf("unmarshal front matter: %w", err)
	}
	return fm, strings.TrimSpace(rest[end+5:]), nil
}

func documentID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:32]
}

func containsThaiTitle(title string) bool {
	for _, r := range title {
		if r >= 0x0E00 && r <= 0x0E7F {
			return true
		}
	}
	return false
}
