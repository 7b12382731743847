package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/hearth-ai/assistant/pkg/knowledge/learn"
	"github.com/hearth-ai/assistant/pkg/models"
)

// conversationSummaryInterval is how many messages accumulate in a chat
// before its running history is folded into an episodic memory (spec
// §4.9's "end-of-conversation summarisation"). There is no explicit
// end-of-conversation signal from any channel, so a message-count
// watermark stands in for it: long enough that a summary only fires
// once a conversation has clearly moved past its opening exchange.
const conversationSummaryInterval = 20

// maybeSummarizeConversation writes a rolling summary of a chat's recent
// history as an episodic-layer document once it crosses
// conversationSummaryInterval messages since the last summary.
func (o *Orchestrator) maybeSummarizeConversation(ctx context.Context, chat models.Chat) {
	if o.learn == nil {
		return
	}
	recent, err := o.store.RecentMessages(ctx, chat.ID, conversationSummaryInterval)
	if err != nil || len(recent) < conversationSummaryInterval {
		return
	}

	group, err := o.store.GetGroup(ctx, chat.GroupID)
	if err != nil {
		o.log.Warn("load group for conversation summary", "chat_id", chat.ID, "error", err)
		return
	}

	summary := summarizeTranscript(recent)
	if summary == "" {
		return
	}

	_, err = o.learn.Learn(ctx, learn.LearnInput{
		Type:        models.DocTypeConversationSummary,
		Title:       fmt.Sprintf("Conversation summary: %s", chat.ID),
		Content:     summary,
		Layer:       models.LayerEpisodic,
		GroupID:     chat.GroupID,
		IsMainGroup: group.IsMain,
	})
	if err != nil {
		o.log.Warn("write conversation summary", "chat_id", chat.ID, "error", err)
	}
}

// summarizeTranscript produces a plain-text digest of recent turns. This
// is a compression stand-in, not a model call — the container that ran
// the turn already has the conversational context; this exists so the
// knowledge engine has a searchable record even when no single turn
// described what the conversation was about overall.
func summarizeTranscript(messages []models.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		line := m.Content
		if len(line) > 240 {
			line = line[:240] + "…"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", m.Sender, line))
	}
	return sb.String()
}
