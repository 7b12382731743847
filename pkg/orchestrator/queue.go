package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/channel"
	"github.com/hearth-ai/assistant/pkg/ipc"
	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/orchestrator/prompt"
	"github.com/hearth-ai/assistant/pkg/router"
)

// Notify implements groupqueue.Notifier: a backpressure notice for a
// message that had to wait, routed to the one chat that sent it.
func (o *Orchestrator) Notify(group string, messageID int64, position int) {
	o.mu.Lock()
	pt, ok := o.pendingTurns[messageID]
	o.mu.Unlock()

	chatID := pt.chatID
	if !ok {
		o.mu.Lock()
		chatID = o.lastChat[group]
		o.mu.Unlock()
	}
	if chatID == "" {
		return
	}
	ch, ok := o.channelFor(channelNameFromChatID(chatID))
	if !ok {
		return
	}
	_ = ch.SendText(context.Background(), chatID, fmt.Sprintf("Queued behind %d other request(s) in this workspace.", position-1))
}

// SubmitScheduled implements scheduler.Submitter: a due scheduled task is
// inserted as a synthetic high-priority message and enqueued directly,
// bypassing router classification (a scheduled prompt always runs in a
// container).
func (o *Orchestrator) SubmitScheduled(ctx context.Context, groupID, promptText string) error {
	if o.queue == nil {
		return fmt.Errorf("submit scheduled task before queue attached")
	}
	group, err := o.store.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("resolve group %s for scheduled task: %w", groupID, err)
	}

	chats, err := o.store.ListChatsByGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("list chats for group %s: %w", groupID, err)
	}
	chatID := group.Name
	for _, c := range chats {
		if c.Registration == models.ChatRegistrationActive {
			chatID = c.ID
			break
		}
	}

	msg, err := o.store.InsertMessage(ctx, models.Message{
		ChatID:        chatID,
		Sender:        "scheduler",
		SenderDisplay: "Scheduled task",
		Content:       promptText,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("persist scheduled task message: %w", err)
	}

	o.mu.Lock()
	o.pendingTurns[msg.ID] = pendingTurn{
		messageID: msg.ID,
		chatID:    chatID,
		groupID:   groupID,
		channel:   channelNameFromChatID(chatID),
		text:      promptText,
		tier:      router.TierContainerFull,
		modelHint: "strong",
	}
	o.mu.Unlock()

	_, err = o.queue.Enqueue(ctx, groupID, models.PriorityHigh, msg.ID)
	return err
}

// HandleQueueEntry implements groupqueue.Handler: it runs one
// container-tier turn end to end (spec §4.9).
func (o *Orchestrator) HandleQueueEntry(ctx context.Context, entry models.QueueEntry) error {
	start := time.Now()

	pt, err := o.resolvePendingTurn(ctx, entry)
	if err != nil {
		return fmt.Errorf("resolve turn context for message %d: %w", entry.MessageID, err)
	}

	chat, err := o.store.GetChat(ctx, pt.chatID)
	if err != nil {
		return fmt.Errorf("load chat %s: %w", pt.chatID, err)
	}

	record, err := o.pool.Acquire(ctx, entry.GroupID)
	if err != nil {
		o.notifyTurnFailure(ctx, chat, err, pt.tier)
		o.recordCost(ctx, pt.tier, pt.modelHint, turnOutcome{}, time.Since(start))
		return fmt.Errorf("acquire container for group %s: %w", entry.GroupID, err)
	}
	defer func() {
		if rErr := o.pool.Release(context.Background(), record.ID); rErr != nil {
			o.log.Error("release container", "container_id", record.ID, "error", rErr)
		}
	}()

	outcome, err := o.runTurn(ctx, chat, pt, record.ID, false)
	if err != nil && (errors.Is(err, apperrors.ErrPartialOutput) || apperrors.IsRetryable(err)) {
		// Spec §4.9 partial-output recovery: one high-priority auto-retry,
		// then admin alert and stop if it fails again.
		msg, _ := translateError(err)
		o.sendText(ctx, chat, msg)
		outcome, err = o.runTurn(ctx, chat, pt, record.ID, false)
	}
	if err != nil {
		o.notifyTurnFailure(ctx, chat, err, pt.tier)
		if errors.Is(err, apperrors.ErrPartialOutput) {
			o.log.Error("partial output after retry, admin alert", "chat_id", chat.ID, "error", err)
		}
		o.publishReplyCompleted(chat.ID, "failed", pt.tier)
		o.recordCost(ctx, pt.tier, pt.modelHint, turnOutcome{}, time.Since(start))
		return err
	}

	if pt.tier == router.TierContainerFull && outcome.quality < o.cfg.QualityThreshold {
		outcome = o.selfReflect(ctx, chat, pt, record.ID, outcome)
	}

	o.finishOutboundReply(ctx, chat, outcome.text)
	o.persistAssistantReply(ctx, chat, outcome.text)
	o.publishReplyCompleted(chat.ID, "completed", pt.tier)
	o.recordCost(ctx, pt.tier, pt.modelHint, outcome, time.Since(start))

	o.mu.Lock()
	delete(o.pendingTurns, entry.MessageID)
	o.mu.Unlock()

	o.maybeSummarizeConversation(ctx, chat)
	return nil
}

// resolvePendingTurn returns the in-memory routing context for a queue
// entry, falling back to the persisted message (with fresh
// classification) if the process restarted between enqueue and dequeue.
func (o *Orchestrator) resolvePendingTurn(ctx context.Context, entry models.QueueEntry) (pendingTurn, error) {
	o.mu.Lock()
	pt, ok := o.pendingTurns[entry.MessageID]
	o.mu.Unlock()
	if ok {
		return pt, nil
	}

	msg, err := o.store.GetMessage(ctx, entry.MessageID)
	if err != nil {
		return pendingTurn{}, err
	}
	chat, err := o.store.GetChat(ctx, msg.ChatID)
	if err != nil {
		return pendingTurn{}, err
	}
	recent, _ := o.store.RecentMessages(ctx, chat.ID, recentHistoryDepth)
	cls := router.Classify(msg.Content, conversationContext(recent))
	return pendingTurn{
		messageID: msg.ID,
		chatID:    chat.ID,
		groupID:   chat.GroupID,
		channel:   chat.Channel,
		text:      msg.Content,
		tier:      cls.Tier,
		modelHint: cls.ModelHint,
	}, nil
}

// runTurn assembles the prompt, opens the IPC channel, and runs one
// request/stream exchange with the container, returning the assembled
// reply text and self-reported quality score.
func (o *Orchestrator) runTurn(ctx context.Context, chat models.Chat, pt pendingTurn, containerID string, reflect bool) (turnOutcome, error) {
	group, err := o.store.GetGroup(ctx, pt.groupID)
	if err != nil {
		return turnOutcome{}, fmt.Errorf("load group %s: %w", pt.groupID, err)
	}

	recent, err := o.store.RecentMessages(ctx, chat.ID, recentHistoryDepth)
	if err != nil {
		return turnOutcome{}, fmt.Errorf("load history for %s: %w", chat.ID, err)
	}

	var knowledge []search.Result
	if o.search != nil {
		knowledge, err = o.search.Search(ctx, search.Query{Text: pt.text, Limit: 5, Mode: search.ModeHybrid})
		if err != nil {
			o.log.Warn("knowledge search failed, proceeding without context", "chat_id", chat.ID, "error", err)
		}
	}

	built := prompt.NewBuilder(o.cfg.PromptTokenBudget).Build(prompt.Input{
		SystemPrompt:   group.SystemPrompt,
		Knowledge:      knowledge,
		RecentMessages: recent,
		CurrentText:    pt.text,
	})

	ipcCh, err := o.ipcChannelFor(pt.groupID)
	if err != nil {
		return turnOutcome{}, fmt.Errorf("open ipc channel for %s: %w", pt.groupID, err)
	}

	reqPayload, err := json.Marshal(turnRequest{
		Tier:      string(pt.tier),
		ModelHint: pt.modelHint,
		Prompt:    built.Text,
		ChatID:    chat.ID,
		Reflect:   reflect,
	})
	if err != nil {
		return turnOutcome{}, fmt.Errorf("marshal turn request: %w", err)
	}

	id := uuid.NewString()
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	var streamMu sync.Mutex
	var chunks []string
	editor := newOutboundEditor(o, chat, o.cfg.EditBatchInterval)

	streamDone := make(chan struct{})
	var streamErr error
	go func() {
		defer close(streamDone)
		_, streamErr = ipcCh.ReadStream(streamCtx, id, func(c ipc.StreamChunk) error {
			streamMu.Lock()
			chunks = append(chunks, c.Text)
			text := joinChunks(chunks)
			streamMu.Unlock()
			editor.update(streamCtx, text)
			return nil
		})
	}()

	resp, reqErr := ipcCh.SendRequest(ctx, ipc.Request{ID: id, Kind: turnRequestKind, Payload: reqPayload})
	// The container responding means the stream should already have seen
	// its completion marker; cancelling here only unblocks ReadStream if
	// it is still waiting, it does not itself indicate a failed stream.
	cancelStream()
	<-streamDone

	if reqErr != nil {
		return turnOutcome{}, fmt.Errorf("%w: container turn request: %v", apperrors.ErrTransientIO, reqErr)
	}
	if !resp.OK {
		return turnOutcome{}, fmt.Errorf("%w: container reported error: %s", apperrors.ErrBadInput, resp.Error)
	}
	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		return turnOutcome{}, fmt.Errorf("%w: %v", apperrors.ErrPartialOutput, streamErr)
	}

	var tr turnResponse
	if err := json.Unmarshal(resp.Payload, &tr); err != nil {
		return turnOutcome{}, fmt.Errorf("unmarshal turn response: %w", err)
	}

	streamMu.Lock()
	text := joinChunks(chunks)
	streamMu.Unlock()
	if text == "" {
		text = tr.Error
	}

	editor.finish(ctx, text)
	return turnOutcome{
		text:         text,
		quality:      tr.Quality,
		model:        tr.Model,
		inputTokens:  tr.InputTokens,
		outputTokens: tr.OutputTokens,
		costEstimate: tr.CostEstimate,
	}, nil
}

func joinChunks(chunks []string) string {
	out := ""
	for _, c := range chunks {
		out += c
	}
	return out
}

func (o *Orchestrator) notifyTurnFailure(ctx context.Context, chat models.Chat, err error, tier router.Tier) {
	msg, _ := translateError(err)
	o.sendText(ctx, chat, msg)
}

// finishOutboundReply delivers the final reply text for channels that
// buffer-until-end (non-editable channels already saw incremental
// updates via the outboundEditor during streaming).
func (o *Orchestrator) finishOutboundReply(ctx context.Context, chat models.Chat, text string) {
	ch, ok := o.channelFor(chat.Channel)
	if !ok {
		return
	}
	if _, editable := ch.(channel.EditableChannel); editable {
		return // already delivered incrementally by the outbound editor
	}
	_ = ch.SetTyping(ctx, chat.ID, false)
	if err := ch.SendText(ctx, chat.ID, text); err != nil {
		o.log.Error("send final reply", "chat_id", chat.ID, "error", err)
	}
}
