// Package learn implements the knowledge engine's write path: the in-band
// `learn` tool a running agent calls to record a learning, principle,
// decision, or retrospective directly into the knowledge store (spec
// §4.2 Learn API).
package learn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/knowledge/chunk"
	"github.com/hearth-ai/assistant/pkg/knowledge/embed"
	"github.com/hearth-ai/assistant/pkg/knowledge/projectref"
	"github.com/hearth-ai/assistant/pkg/knowledge/vectorstore"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

// LearnInput is one write request from an agent's `learn` tool call.
type LearnInput struct {
	Type        models.DocumentType
	Title       string
	Content     string
	Concepts    []string
	Project     string // raw reference, normalised internally
	Layer       models.MemoryLayer
	GroupID     string // the calling group, recorded in metadata
	IsMainGroup bool   // main group writes get elevated deletion rights downstream
}

// Service is the learn API: writes go through the same chunk/embed/upsert
// path the indexer uses, but are tagged created_by=learn_api so a full
// indexer rebuild never deletes them.
type Service struct {
	Store       *store.Store
	VectorStore *vectorstore.Store
	Splitter    *chunk.Splitter
	Embedder    embed.Embedder
}

// Learn records a new knowledge document and returns its id.
func (s *Service) Learn(ctx context.Context, in LearnInput) (string, error) {
	if in.Content == "" {
		return "", fmt.Errorf("learn input has empty content")
	}
	if in.Layer == "" {
		in.Layer = models.LayerSemantic
	}

	project := ""
	if in.Project != "" {
		var err error
		project, err = projectref.Normalize(in.Project)
		if err != nil {
			return "", fmt.Errorf("normalize project reference %q: %w", in.Project, err)
		}
	}

	now := time.Now().UTC()
	docID := learnDocID(in.GroupID, in.Title, in.Content, now)

	doc := models.Document{
		ID:         docID,
		Type:       in.Type,
		Title:      in.Title,
		Content:    in.Content,
		Concepts:   in.Concepts,
		Project:    project,
		CreatedBy:  models.CreatedByLearnAPI,
		CreatedAt:  now,
		UpdatedAt:  now,
		Layer:      in.Layer,
		SyncStatus: models.SyncPending,
		LastAccess: now,
		DecayScore: 1,
		Metadata:   map[string]any{"group": in.GroupID, "is_main_group": in.IsMainGroup},
	}
	if in.Layer == models.LayerWorking {
		expires := now.Add(24 * time.Hour)
		doc.ExpiresAt = &expires
	}

	if err := s.Store.UpsertDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("upsert learned document: %w", err)
	}

	chunks, err := s.Splitter.Split(ctx, doc.ID, doc.Content, false)
	if err != nil {
		return "", fmt.Errorf("chunk learned document: %w", err)
	}
	if err := s.Store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return "", fmt.Errorf("store chunks for learned document: %w", err)
	}

	if s.Embedder != nil && s.VectorStore != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := s.Embedder.Embed(ctx, texts)
		if err != nil {
			doc.SyncStatus = models.SyncFailed
			_ = s.Store.UpsertDocument(ctx, doc)
			return doc.ID, fmt.Errorf("embed learned document: %w", err)
		}
		points := make([]vectorstore.Point, len(chunks))
		for i, c := range chunks {
			points[i] = vectorstore.Point{ChunkID: c.ID, DocumentID: doc.ID, Index: c.Index, Vector: vectors[i]}
		}
		if err := s.VectorStore.Upsert(ctx, points); err != nil {
			doc.SyncStatus = models.SyncFailed
			_ = s.Store.UpsertDocument(ctx, doc)
			return doc.ID, fmt.Errorf("index vectors for learned document: %w", err)
		}
	}

	doc.SyncStatus = models.SyncSynced
	if err := s.Store.UpsertDocument(ctx, doc); err != nil {
		return doc.ID, fmt.Errorf("mark learned document synced: %w", err)
	}
	return doc.ID, nil
}

// Forget deletes a learn_api document. Non-main-group callers may only
// delete documents their own group wrote; the main group may delete any
// learn_api document, the elevated deletion right LearnInput.IsMainGroup
// records at write time. Indexer-owned documents are never reachable here
// (those are cleared only by a rebuild).
func (s *Service) Forget(ctx context.Context, docID, callerGroupID string, callerIsMainGroup bool) error {
	doc, err := s.Store.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", docID, err)
	}
	if doc.CreatedBy != models.CreatedByLearnAPI {
		return fmt.Errorf("%w: document %s is not learn-api owned", apperrors.ErrBadInput, docID)
	}
	if !callerIsMainGroup && fmt.Sprint(doc.Metadata["group"]) != callerGroupID {
		return fmt.Errorf("%w: group %s may not forget a document written by another group", apperrors.ErrAuthFailure, callerGroupID)
	}

	if s.VectorStore != nil {
		if err := s.VectorStore.DeleteByDocument(ctx, docID); err != nil {
			return fmt.Errorf("delete vectors for document %s: %w", docID, err)
		}
	}
	return s.Store.DeleteDocument(ctx, docID)
}

// Supersede records that newDoc replaces oldDoc, e.g. when a later
// learning invalidates an earlier one.
func (s *Service) Supersede(ctx context.Context, oldDocID, newDocID, reason, by string) error {
	return s.Store.RecordSupersession(ctx, models.Supersession{
		OldDocID: oldDocID,
		NewDocID: newDocID,
		Reason:   reason,
		At:       time.Now().UTC(),
		By:       by,
	})
}

func learnDocID(groupID, title, content string, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(groupID))
	h.Write([]byte{0})
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte(at.Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
