// Package orchestrator is the state machine tying the rest of the
// assistant together (spec §4.9): message ingress, persistence, routing,
// container acquisition, IPC-driven streamed replies, and end-of-turn
// knowledge writes. It is the one package that imports nearly everything
// else — store, events, router, groupqueue, container, ipc, and the
// knowledge engine — which is why every dependency arrives as an
// already-constructed value in Deps rather than being built here.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hearth-ai/assistant/pkg/channel"
	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/container"
	"github.com/hearth-ai/assistant/pkg/events"
	"github.com/hearth-ai/assistant/pkg/groupqueue"
	"github.com/hearth-ai/assistant/pkg/ipc"
	"github.com/hearth-ai/assistant/pkg/knowledge/learn"
	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/router"
	"github.com/hearth-ai/assistant/pkg/store"
)

// recentHistoryDepth bounds how many prior messages feed both the router's
// ConversationContext and prompt assembly.
const recentHistoryDepth int = 12

// knowledgeOnlyResultLimit caps how many hits a recall-tier reply cites.
const knowledgeOnlyResultLimit = 3

// Deps bundles everything the Orchestrator needs, already constructed by
// the caller (cmd/assistant). Queue and Pool are filled in by AttachQueue
// and AttachPool after construction, since both of those take a handler
// that closes over the Orchestrator itself.
type Deps struct {
	Store     *store.Store
	Bus       *events.Bus
	Search    *search.Engine
	Learn     *learn.Service
	IPCSecret []byte
	IPCDirFor container.DirsFor
	Config    config.OrchestratorConfig
	Log       *slog.Logger
}

// Orchestrator implements channel.Sink: every configured channel adapter
// is constructed with an Orchestrator as its inbound sink.
type Orchestrator struct {
	store     *store.Store
	bus       *events.Bus
	eventSink events.InboundSink
	search    *search.Engine
	learn     *learn.Service
	ipcSecret []byte
	ipcDirFor container.DirsFor
	cfg       config.OrchestratorConfig
	log       *slog.Logger

	queue *groupqueue.Queue
	pool  *container.Pool

	channelsMu sync.RWMutex
	channels   map[string]channel.Channel

	mainGroupMu sync.Mutex
	mainGroup   *models.Group

	mu           sync.Mutex
	pendingTurns map[int64]pendingTurn
	lastChat     map[string]string // groupID -> most recently enqueued chatID, for Notifier
}

// New constructs an Orchestrator. Call AttachQueue, AttachPool, and
// RegisterChannel before Start.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		store:        d.Store,
		bus:          d.Bus,
		eventSink:    events.InboundSink{Bus: d.Bus},
		search:       d.Search,
		learn:        d.Learn,
		ipcSecret:    d.IPCSecret,
		ipcDirFor:    d.IPCDirFor,
		cfg:          d.Config,
		log:          d.Log,
		channels:     make(map[string]channel.Channel),
		pendingTurns: make(map[int64]pendingTurn),
		lastChat:     make(map[string]string),
	}
}

// AttachQueue wires the group queue this Orchestrator dispatches
// container-tier turns through. Must be called once before Start.
func (o *Orchestrator) AttachQueue(q *groupqueue.Queue) { o.queue = q }

// AttachPool wires the container warm pool.
func (o *Orchestrator) AttachPool(p *container.Pool) { o.pool = p }

// RegisterChannel makes a channel adapter available for outbound sends,
// keyed by its Name().
func (o *Orchestrator) RegisterChannel(ch channel.Channel) {
	o.channelsMu.Lock()
	defer o.channelsMu.Unlock()
	o.channels[ch.Name()] = ch
}

func (o *Orchestrator) channelFor(name string) (channel.Channel, bool) {
	o.channelsMu.RLock()
	defer o.channelsMu.RUnlock()
	ch, ok := o.channels[name]
	return ch, ok
}

// Publish implements channel.Sink. Adapters call this for every inbound
// event; persistence, routing, and dispatch all happen from here.
func (o *Orchestrator) Publish(ctx context.Context, evt channel.InboundEvent) {
	o.eventSink.Publish(ctx, evt)

	if evt.Kind != channel.EventMessageReceived {
		return
	}
	if err := o.handleMessage(ctx, evt); err != nil {
		o.log.Error("handle inbound message", "chat_id", evt.ChatID, "error", err)
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, evt channel.InboundEvent) error {
	chat, err := o.getOrCreateChat(ctx, evt)
	if err != nil {
		return fmt.Errorf("resolve chat %s: %w", evt.ChatID, err)
	}

	msg, err := o.store.InsertMessage(ctx, models.Message{
		ChatID:        chat.ID,
		Sender:        evt.Sender,
		SenderDisplay: evt.SenderName,
		Timestamp:     time.Now().UTC(),
		Content:       evt.Content,
	})
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	for _, att := range evt.Attachments {
		if _, err := o.store.InsertAttachment(ctx, attachmentFromInbound(msg.ID, att)); err != nil {
			o.log.Warn("persist attachment failed", "message_id", msg.ID, "error", err)
		}
	}

	recent, err := o.store.RecentMessages(ctx, chat.ID, recentHistoryDepth)
	if err != nil {
		return fmt.Errorf("load recent messages for %s: %w", chat.ID, err)
	}

	cls := router.Classify(evt.Content, conversationContext(recent))

	switch cls.Tier {
	case router.TierInline:
		o.replyInline(ctx, chat, evt.Content, cls)
	case router.TierKnowledgeOnly:
		o.replyKnowledgeOnly(ctx, chat, evt.Content, cls)
	default:
		o.enqueueContainerTurn(ctx, chat, msg, evt.Content, cls)
	}
	return nil
}

// getOrCreateChat resolves the chat for an inbound event, creating it and
// assigning it to the main group on first contact.
func (o *Orchestrator) getOrCreateChat(ctx context.Context, evt channel.InboundEvent) (models.Chat, error) {
	chat, err := o.store.GetChat(ctx, evt.ChatID)
	if err == nil {
		return chat, nil
	}

	main, mErr := o.getMainGroup(ctx)
	if mErr != nil {
		return models.Chat{}, fmt.Errorf("resolve main group for new chat: %w", mErr)
	}
	now := time.Now().UTC()
	chat = models.Chat{
		ID:           evt.ChatID,
		Channel:      channelNameFromChatID(evt.ChatID),
		DisplayName:  evt.SenderName,
		Registration: models.ChatRegistrationActive,
		GroupID:      main.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.UpsertChat(ctx, chat); err != nil {
		return models.Chat{}, fmt.Errorf("register new chat: %w", err)
	}
	return chat, nil
}

func (o *Orchestrator) getMainGroup(ctx context.Context) (models.Group, error) {
	o.mainGroupMu.Lock()
	defer o.mainGroupMu.Unlock()
	if o.mainGroup != nil {
		return *o.mainGroup, nil
	}
	g, err := o.store.MainGroup(ctx)
	if err != nil {
		return models.Group{}, err
	}
	o.mainGroup = &g
	return g, nil
}

// conversationContext derives the router's lightweight signal set from
// the chat's recent history: turn count, and whether the assistant's
// last message looked like a clarifying question.
func conversationContext(recent []models.Message) router.ConversationContext {
	cc := router.ConversationContext{RecentTurnCount: len(recent)}
	if len(recent) >= 2 {
		prev := recent[len(recent)-2]
		if prev.Sender == assistantSender && strings.HasSuffix(strings.TrimSpace(prev.Content), "?") {
			cc.AwaitingReply = true
		}
	}
	return cc
}

func attachmentFromInbound(messageID int64, a channel.InboundAttachment) models.Attachment {
	return models.Attachment{
		MessageID:     messageID,
		Kind:          models.AttachmentKind(a.Kind),
		MIME:          a.MIME,
		Filename:      a.Filename,
		SizeBytes:     a.SizeBytes,
		ChannelFileID: a.FileID,
		Width:         a.Width,
		Height:        a.Height,
		DurationMS:    a.DurationMS,
	}
}

func channelNameFromChatID(chatID string) string {
	if i := strings.Index(chatID, ":"); i > 0 {
		switch chatID[:i] {
		case "tg":
			return "telegram"
		case "wa":
			return "whatsapp"
		}
	}
	return "unknown"
}

// sendText delivers plain text through the chat's channel, logging but
// not failing the caller on an adapter-level send error (the turn itself
// already succeeded; a delivery failure is a channel-layer concern).
func (o *Orchestrator) sendText(ctx context.Context, chat models.Chat, text string) {
	ch, ok := o.channelFor(chat.Channel)
	if !ok {
		o.log.Error("no channel registered for chat", "chat_id", chat.ID, "channel", chat.Channel)
		return
	}
	if err := ch.SendText(ctx, chat.ID, text); err != nil {
		o.log.Error("send text failed", "chat_id", chat.ID, "error", err)
	}
}

func (o *Orchestrator) publishReplyCompleted(chatID, status string, tier router.Tier) {
	payload, err := json.Marshal(events.ReplyCompletedPayload{
		Type:   events.EventReplyCompleted,
		ChatID: chatID,
		Status: status,
		Tier:   string(tier),
	})
	if err != nil {
		o.log.Error("marshal reply completed payload", "error", err)
		return
	}
	o.bus.Publish(events.ChatTopic(chatID), events.EventReplyCompleted, payload)
}

// recordCost appends one cost_records row for a completed or failed reply
// (spec §4.7: cost accounting attaches a record to every outcome). model
// falls back to the tier's model hint when the container never reported
// one (inline and knowledge-only replies spawn no container at all).
func (o *Orchestrator) recordCost(ctx context.Context, tier router.Tier, modelHint string, outcome turnOutcome, latency time.Duration) {
	model := outcome.model
	if model == "" {
		model = modelHint
	}
	rec := models.CostRecord{
		Tier:         string(tier),
		Model:        model,
		InputTokens:  outcome.inputTokens,
		OutputTokens: outcome.outputTokens,
		CostEstimate: outcome.costEstimate,
		LatencyMS:    latency.Milliseconds(),
		At:           time.Now().UTC(),
	}
	if err := o.store.RecordCost(ctx, rec); err != nil {
		o.log.Warn("record cost", "tier", tier, "error", err)
	}
}

// ipcChannelFor opens (or re-opens; Open is idempotent) the IPC channel
// for a group.
func (o *Orchestrator) ipcChannelFor(group string) (*ipc.Channel, error) {
	dirs := o.ipcDirFor(group)
	return ipc.Open(dirs.IPC, o.ipcSecret)
}

var _ channel.Sink = (*Orchestrator)(nil)

// userMessage and assistant sender tags, used consistently across
// persisted messages and router heuristics.
const (
	assistantSender = "assistant"
)
