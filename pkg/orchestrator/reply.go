package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/router"
)

// replyInline answers a greeting, acknowledgement, or slash command
// without touching a container or the knowledge engine (spec §4.7,
// cheapest tier).
func (o *Orchestrator) replyInline(ctx context.Context, chat models.Chat, text string, cls router.Classification) {
	start := time.Now()
	o.sendText(ctx, chat, inlineReplyFor(text))
	o.persistAssistantReply(ctx, chat, inlineReplyFor(text))
	o.publishReplyCompleted(chat.ID, "completed", cls.Tier)
	o.recordCost(ctx, cls.Tier, cls.ModelHint, turnOutcome{}, time.Since(start))
}

// inlineReplyFor returns a canned response for an inline-tier message.
// Kept independent of router's internal classification reason so this
// package does not reach into another package's matching internals.
func inlineReplyFor(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.HasPrefix(lower, "/"):
		return "Got it."
	case strings.Contains(lower, "thank"), strings.Contains(lower, "thx"), strings.Contains(lower, "ขอบคุณ"):
		return "You're welcome!"
	case strings.HasPrefix(lower, "hi"), strings.HasPrefix(lower, "hello"), strings.HasPrefix(lower, "hey"), strings.Contains(lower, "สวัสดี"):
		return "Hey, what can I help with?"
	default:
		return "👍"
	}
}

// replyKnowledgeOnly answers a recall question straight from the
// knowledge engine, never acquiring a container (spec §4.7).
func (o *Orchestrator) replyKnowledgeOnly(ctx context.Context, chat models.Chat, text string, cls router.Classification) {
	start := time.Now()
	results, err := o.search.Search(ctx, search.Query{
		Text:  text,
		Limit: knowledgeOnlyResultLimit,
		Mode:  search.ModeHybrid,
	})
	if err != nil {
		o.log.Warn("knowledge-only search failed, falling back to container", "chat_id", chat.ID, "error", err)
		msg, mErr := o.store.RecentMessages(ctx, chat.ID, 1)
		if mErr == nil && len(msg) > 0 {
			o.enqueueContainerTurn(ctx, chat, msg[len(msg)-1], text, router.Classification{Tier: router.TierContainerShort, ModelHint: "cheap"})
		}
		return
	}

	reply := formatKnowledgeReply(results)
	o.sendText(ctx, chat, reply)
	o.persistAssistantReply(ctx, chat, reply)
	o.publishReplyCompleted(chat.ID, "completed", cls.Tier)
	o.recordCost(ctx, cls.Tier, cls.ModelHint, turnOutcome{}, time.Since(start))
}

func formatKnowledgeReply(results []search.Result) string {
	if len(results) == 0 {
		return "I don't have anything recorded on that yet."
	}
	var sb strings.Builder
	sb.WriteString("Here's what I've got:\n")
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("- %s\n", r.Document.Title))
	}
	return sb.String()
}

// persistAssistantReply records the assistant's own reply so later
// RecentMessages calls (and the AwaitingReply heuristic) see it.
func (o *Orchestrator) persistAssistantReply(ctx context.Context, chat models.Chat, text string) {
	if _, err := o.store.InsertMessage(ctx, models.Message{
		ChatID:        chat.ID,
		Sender:        assistantSender,
		SenderDisplay: "Assistant",
		Content:       text,
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		o.log.Error("persist assistant reply", "chat_id", chat.ID, "error", err)
	}
}

// enqueueContainerTurn hands a classified message to the group queue,
// remembering its routing context in pendingTurns so the worker that
// eventually claims it (HandleQueueEntry) does not need to re-classify.
func (o *Orchestrator) enqueueContainerTurn(ctx context.Context, chat models.Chat, msg models.Message, text string, cls router.Classification) {
	if o.queue == nil {
		o.log.Error("enqueue requested before queue attached", "chat_id", chat.ID)
		return
	}

	priority := models.PriorityNormal
	if cls.Tier == router.TierContainerShort {
		priority = models.PriorityNormal
	}

	o.mu.Lock()
	o.lastChat[chat.GroupID] = chat.ID
	o.mu.Unlock()

	id, err := o.queue.Enqueue(ctx, chat.GroupID, priority, msg.ID)
	if err != nil {
		o.handleEnqueueError(ctx, chat, err)
		return
	}

	o.mu.Lock()
	o.pendingTurns[msg.ID] = pendingTurn{
		messageID: msg.ID,
		chatID:    chat.ID,
		groupID:   chat.GroupID,
		channel:   chat.Channel,
		text:      text,
		tier:      cls.Tier,
		modelHint: cls.ModelHint,
	}
	o.mu.Unlock()

	o.log.Info("enqueued container turn", "queue_id", id, "chat_id", chat.ID, "tier", cls.Tier)
}

func (o *Orchestrator) handleEnqueueError(ctx context.Context, chat models.Chat, err error) {
	msg, action := translateError(err)
	o.sendText(ctx, chat, msg)
	if action != "" {
		o.log.Warn("enqueue rejected", "chat_id", chat.ID, "error", err, "action", action)
	}
	o.publishReplyCompleted(chat.ID, "failed", router.TierContainerShort)
}
