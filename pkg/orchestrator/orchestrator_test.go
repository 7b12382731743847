package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ai/assistant/pkg/channel"
	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/events"
	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: t.TempDir() + "/assistant.db"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel is a minimal channel.Channel double that records sent text.
type fakeChannel struct {
	name string

	mu       sync.Mutex
	sent     []string
	typingOn bool
}

func newFakeChannel(name string) *fakeChannel { return &fakeChannel{name: name} }

func (f *fakeChannel) Name() string                    { return f.name }
func (f *fakeChannel) Start(ctx context.Context) error { return nil }
func (f *fakeChannel) State() channel.State            { return channel.StateConnected }

func (f *fakeChannel) SendPayload(ctx context.Context, chatID string, p channel.Payload) error {
	return nil
}

func (f *fakeChannel) SendText(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChannel) SetTyping(ctx context.Context, chatID string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingOn = on
	return nil
}

func (f *fakeChannel) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store, *fakeChannel) {
	t.Helper()
	st := newTestStore(t)
	require.NoError(t, st.UpsertGroup(context.Background(), models.Group{Name: "main", IsMain: true, SystemPrompt: "be helpful"}))

	o := New(Deps{
		Store:  st,
		Bus:    events.NewBus(time.Hour, testLogger()),
		Search: &search.Engine{Store: st, Log: testLogger()},
		Config: config.OrchestratorConfig{
			PromptTokenBudget: 2000,
			QualityThreshold:  0.5,
		},
		Log: testLogger(),
	})
	fc := newFakeChannel("telegram")
	o.RegisterChannel(fc)
	return o, st, fc
}

func TestPublishInlineGreetingRepliesWithoutQueue(t *testing.T) {
	o, _, fc := newTestOrchestrator(t)

	o.Publish(context.Background(), channel.InboundEvent{
		Kind:    channel.EventMessageReceived,
		ChatID:  "tg:1",
		Content: "hello",
		Sender:  "user",
	})

	texts := fc.texts()
	require.Len(t, texts, 1)
	assert.Equal(t, "Hey, what can I help with?", texts[0])
}

func TestPublishCreatesChatAssignedToMainGroup(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)

	o.Publish(context.Background(), channel.InboundEvent{
		Kind:    channel.EventMessageReceived,
		ChatID:  "tg:42",
		Content: "hi there",
		Sender:  "user",
	})

	chat, err := st.GetChat(context.Background(), "tg:42")
	require.NoError(t, err)
	assert.Equal(t, "main", chat.GroupID)
	assert.Equal(t, models.ChatRegistrationActive, chat.Registration)
}

func TestPublishKnowledgeOnlyRepliesWithoutMatches(t *testing.T) {
	o, _, fc := newTestOrchestrator(t)

	o.Publish(context.Background(), channel.InboundEvent{
		Kind:    channel.EventMessageReceived,
		ChatID:  "tg:2",
		Content: "remember what we decided about the database?",
		Sender:  "user",
	})

	texts := fc.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "don't have anything recorded")
}

func TestInlineReplyForVariants(t *testing.T) {
	assert.Equal(t, "Got it.", inlineReplyFor("/start"))
	assert.Equal(t, "You're welcome!", inlineReplyFor("thanks!"))
	assert.Equal(t, "Hey, what can I help with?", inlineReplyFor("hello"))
	assert.Equal(t, "👍", inlineReplyFor("ok"))
}

func TestTranslateErrorUnknownFallsBackToGeneric(t *testing.T) {
	msg, action := translateError(assert.AnError)
	assert.Equal(t, "Something went wrong handling that.", msg)
	assert.Empty(t, action)
}

func TestChannelNameFromChatID(t *testing.T) {
	assert.Equal(t, "telegram", channelNameFromChatID("tg:123"))
	assert.Equal(t, "whatsapp", channelNameFromChatID("wa:123@s.whatsapp.net"))
	assert.Equal(t, "unknown", channelNameFromChatID("no-prefix"))
}
