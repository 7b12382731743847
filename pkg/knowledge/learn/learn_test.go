package learn

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: t.TempDir() + "/assistant.db"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestLearnPersistsDocument(t *testing.T) {
	st := newTestStore(t)
	svc := &Service{Store: st}

	id, err := svc.Learn(context.Background(), LearnInput{
		Type:    models.DocTypeLearning,
		Title:   "Prefer tabs",
		Content: "The user prefers tabs over spaces.",
		GroupID: "main",
	})
	require.NoError(t, err)

	doc, err := st.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.CreatedByLearnAPI, doc.CreatedBy)
	assert.Equal(t, models.SyncSynced, doc.SyncStatus)
}

func TestForgetRejectsNonOwningGroup(t *testing.T) {
	st := newTestStore(t)
	svc := &Service{Store: st}

	id, err := svc.Learn(context.Background(), LearnInput{
		Type:    models.DocTypeLearning,
		Title:   "Team A decision",
		Content: "We chose option B.",
		GroupID: "team-a",
	})
	require.NoError(t, err)

	err = svc.Forget(context.Background(), id, "team-b", false)
	assert.ErrorIs(t, err, apperrors.ErrAuthFailure)

	_, err = st.GetDocument(context.Background(), id)
	assert.NoError(t, err, "document must survive a rejected forget")
}

func TestForgetAllowsOwningGroup(t *testing.T) {
	st := newTestStore(t)
	svc := &Service{Store: st}

	id, err := svc.Learn(context.Background(), LearnInput{
		Type:    models.DocTypeLearning,
		Title:   "Team A decision",
		Content: "We chose option B.",
		GroupID: "team-a",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Forget(context.Background(), id, "team-a", false))

	_, err = st.GetDocument(context.Background(), id)
	assert.Error(t, err)
}

func TestForgetAllowsMainGroupAcrossGroups(t *testing.T) {
	st := newTestStore(t)
	svc := &Service{Store: st}

	id, err := svc.Learn(context.Background(), LearnInput{
		Type:    models.DocTypeLearning,
		Title:   "Team A decision",
		Content: "We chose option B.",
		GroupID: "team-a",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Forget(context.Background(), id, "main", true))

	_, err = st.GetDocument(context.Background(), id)
	assert.Error(t, err)
}

func TestForgetRejectsIndexerDocument(t *testing.T) {
	st := newTestStore(t)
	svc := &Service{Store: st}

	doc := models.Document{
		ID:         "indexer-doc",
		Type:       models.DocTypeDecision,
		Title:      "From disk",
		Content:    "indexed content",
		CreatedBy:  models.CreatedByIndexer,
		SyncStatus: models.SyncSynced,
		Layer:      models.LayerSemantic,
		DecayScore: 1,
	}
	require.NoError(t, st.UpsertDocument(context.Background(), doc))

	err := svc.Forget(context.Background(), doc.ID, "main", true)
	assert.ErrorIs(t, err, apperrors.ErrBadInput)
}
