package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ai/assistant/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), Options{
		Path:        filepath.Join(dir, "assistant.db"),
		BusyTimeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	chat := models.Chat{
		ID:           "tg:123",
		Channel:      "telegram",
		DisplayName:  "Ada",
		Registration: models.ChatRegistrationPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.UpsertChat(ctx, chat))

	got, err := s.GetChat(ctx, "tg:123")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.DisplayName)
	assert.Equal(t, models.ChatRegistrationPending, got.Registration)

	chat.Registration = models.ChatRegistrationActive
	chat.GroupID = "home"
	require.NoError(t, s.UpsertGroup(ctx, models.Group{Name: "home", WorkspacePath: "/ws/home", IPCNamespace: "home"}))
	require.NoError(t, s.UpsertChat(ctx, chat))

	got, err = s.GetChat(ctx, "tg:123")
	require.NoError(t, err)
	assert.Equal(t, models.ChatRegistrationActive, got.Registration)
	assert.Equal(t, "home", got.GroupID)
}

func TestGetChatNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetChat(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMessageAndAttachmentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertChat(ctx, models.Chat{ID: "tg:1", Channel: "telegram", CreatedAt: now, UpdatedAt: now}))

	msg, err := s.InsertMessage(ctx, models.Message{ChatID: "tg:1", Sender: "user", Timestamp: now, Content: "hello"})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	width := 800
	att, err := s.InsertAttachment(ctx, models.Attachment{
		MessageID: msg.ID,
		Kind:      models.AttachmentPhoto,
		MIME:      "image/jpeg",
		Width:     &width,
	})
	require.NoError(t, err)

	attachments, err := s.AttachmentsForMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, att.ID, attachments[0].ID)
	require.NotNil(t, attachments[0].Width)
	assert.Equal(t, 800, *attachments[0].Width)

	recent, err := s.RecentMessages(ctx, "tg:1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "hello", recent[0].Content)
}

func TestQueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertGroup(ctx, models.Group{Name: "main", IsMain: true, WorkspacePath: "/ws/main", IPCNamespace: "main"}))
	require.NoError(t, s.UpsertChat(ctx, models.Chat{ID: "tg:1", Channel: "telegram", CreatedAt: now, UpdatedAt: now}))
	msg, err := s.InsertMessage(ctx, models.Message{ChatID: "tg:1", Sender: "user", Timestamp: now})
	require.NoError(t, err)

	entry := models.QueueEntry{ID: "q1", GroupID: "main", Priority: models.PriorityNormal, MessageID: msg.ID, EnqueuedAt: now}
	require.NoError(t, s.EnqueueMessage(ctx, entry))

	high := models.QueueEntry{ID: "q2", GroupID: "main", Priority: models.PriorityHigh, MessageID: msg.ID, EnqueuedAt: now.Add(time.Second)}
	require.NoError(t, s.EnqueueMessage(ctx, high))

	next, ok, err := s.NextWaiting(ctx, "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "q2", next.ID, "higher priority entry should be returned first even though enqueued later")

	require.NoError(t, s.MarkActive(ctx, next.ID, "container-1", now))
	require.NoError(t, s.MarkFinished(ctx, next.ID, models.QueueCompleted, "", now.Add(time.Minute)))

	depth, err := s.QueueDepth(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth, "one entry remains waiting")

	n, err := s.ReclaimStuckActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDocumentUpsertAndLexicalSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	doc := models.Document{
		ID:        "doc1",
		Type:      models.DocTypeLearning,
		Title:     "Coffee preference",
		Content:   "The user prefers oat milk flat whites in the morning",
		CreatedBy: models.CreatedByIndexer,
		CreatedAt: now,
		UpdatedAt: now,
		Layer:     models.LayerSemantic,
	}
	require.NoError(t, s.UpsertDocument(ctx, doc))

	hits, err := s.LexicalSearch(ctx, "oat milk", "", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc1", hits[0].DocumentID)

	require.NoError(t, s.TouchAccess(ctx, "doc1", now.Add(time.Minute)))
	got, err := s.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
}

func TestDeleteIndexerDocumentsPreservesLearnAPIDocs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertDocument(ctx, models.Document{
		ID: "idx1", Type: models.DocTypeRetrospective, Content: "indexed content",
		CreatedBy: models.CreatedByIndexer, CreatedAt: now, UpdatedAt: now, Layer: models.LayerEpisodic,
	}))
	require.NoError(t, s.UpsertDocument(ctx, models.Document{
		ID: "learn1", Type: models.DocTypeLearning, Content: "hand-taught fact",
		CreatedBy: models.CreatedByLearnAPI, CreatedAt: now, UpdatedAt: now, Layer: models.LayerSemantic,
	}))

	require.NoError(t, s.DeleteIndexerDocuments(ctx, ""))

	_, err := s.GetDocument(ctx, "idx1")
	assert.Error(t, err)

	kept, err := s.GetDocument(ctx, "learn1")
	require.NoError(t, err)
	assert.Equal(t, "hand-taught fact", kept.Content)
}

func TestScheduledTaskDuplicateGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertGroup(ctx, models.Group{Name: "main", IsMain: true, WorkspacePath: "/ws/main", IPCNamespace: "main"}))

	task := models.ScheduledTask{
		ID: "t1", GroupID: "main", CronExpression: "0 9 * * *", Prompt: "good morning",
		NextRunUTC: now, Timezone: "UTC", MaxRetries: 3,
	}
	require.NoError(t, s.CreateScheduledTask(ctx, task))

	dup, err := s.ExistsActiveDuplicate(ctx, task.DuplicateKey())
	require.NoError(t, err)
	assert.True(t, dup)

	due, err := s.DueTasks(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "t1", due[0].ID)
}

func TestRecordFailureAndPause(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertGroup(ctx, models.Group{Name: "main", IsMain: true, WorkspacePath: "/ws/main", IPCNamespace: "main"}))
	require.NoError(t, s.CreateScheduledTask(ctx, models.ScheduledTask{
		ID: "t1", GroupID: "main", CronExpression: "0 9 * * *", Prompt: "x", NextRunUTC: now, Timezone: "UTC",
	}))

	var task models.ScheduledTask
	var err error
	for i := 0; i < 3; i++ {
		task, err = s.RecordFailure(ctx, "t1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, task.ConsecutiveFailures)

	require.NoError(t, s.PauseTask(ctx, "t1", now))
	due, err := s.DueTasks(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due, "paused task must not be returned as due")
}

func TestSupersessionMarksOldDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertDocument(ctx, models.Document{
		ID: "old", Content: "v1", CreatedBy: models.CreatedByIndexer, CreatedAt: now, UpdatedAt: now, Layer: models.LayerSemantic,
	}))
	require.NoError(t, s.UpsertDocument(ctx, models.Document{
		ID: "new", Content: "v2", CreatedBy: models.CreatedByIndexer, CreatedAt: now, UpdatedAt: now, Layer: models.LayerSemantic,
	}))

	require.NoError(t, s.RecordSupersession(ctx, models.Supersession{
		OldDocID: "old", NewDocID: "new", Reason: "re-index", At: now, By: "indexer",
	}))

	old, err := s.GetDocument(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "new", old.SupersededBy)

	history, err := s.SupersessionHistory(ctx, "new")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "old", history[0].OldDocID)
}

func TestCostSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.RecordCost(ctx, models.CostRecord{
		Tier: "container_full", Model: "claude", InputTokens: 100, OutputTokens: 50, CostEstimate: 0.02, At: now,
	}))
	require.NoError(t, s.RecordCost(ctx, models.CostRecord{
		Tier: "inline", Model: "claude-haiku", InputTokens: 10, OutputTokens: 5, CostEstimate: 0.001, At: now,
	}))

	summary, err := s.CostSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.RequestCount)
	assert.InDelta(t, 0.021, summary.TotalCost, 0.0001)
}
