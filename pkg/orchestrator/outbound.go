package orchestrator

import (
	"context"
	"time"

	"github.com/hearth-ai/assistant/pkg/channel"
	"github.com/hearth-ai/assistant/pkg/models"
)

// outboundEditor delivers a streaming reply to a chat's channel (spec
// §4.9): edit-batched onto one message every batchInterval for channels
// that support revising a sent message, or a typing indicator only (the
// final text goes out once, via finishOutboundReply) for channels that
// don't.
type outboundEditor struct {
	o             *Orchestrator
	chat          models.Chat
	batchInterval time.Duration

	editable channel.EditableChannel
	handle   string
	lastSent time.Time
	started  bool
}

func newOutboundEditor(o *Orchestrator, chat models.Chat, batchInterval time.Duration) *outboundEditor {
	ed := &outboundEditor{o: o, chat: chat, batchInterval: batchInterval}
	if ch, ok := o.channelFor(chat.Channel); ok {
		if ec, ok := ch.(channel.EditableChannel); ok {
			ed.editable = ec
		} else {
			_ = ch.SetTyping(context.Background(), chat.ID, true)
		}
	}
	if ed.batchInterval <= 0 {
		ed.batchInterval = 500 * time.Millisecond
	}
	return ed
}

// update is called with the full reply text accumulated so far, every
// time a new stream chunk arrives. Non-editable channels ignore it; the
// final text is delivered once streaming completes.
func (e *outboundEditor) update(ctx context.Context, text string) {
	if e.editable == nil || text == "" {
		return
	}
	if !e.started {
		handle, err := e.editable.SendEditableText(ctx, e.chat.ID, text)
		if err != nil {
			e.o.log.Error("send editable text", "chat_id", e.chat.ID, "error", err)
			return
		}
		e.handle = handle
		e.started = true
		e.lastSent = time.Now()
		return
	}
	if time.Since(e.lastSent) < e.batchInterval {
		return
	}
	if err := e.editable.EditText(ctx, e.chat.ID, e.handle, text); err != nil {
		e.o.log.Error("edit streamed text", "chat_id", e.chat.ID, "error", err)
		return
	}
	e.lastSent = time.Now()
}

// finish delivers the final text for editable channels: a last edit to
// catch any chunk the batching interval skipped, or (if the stream never
// produced a chunk worth an initial send) a single fresh send.
// Non-editable channels are handled separately by finishOutboundReply.
func (e *outboundEditor) finish(ctx context.Context, text string) {
	if e.editable == nil || text == "" {
		return
	}
	if !e.started {
		if _, err := e.editable.SendEditableText(ctx, e.chat.ID, text); err != nil {
			e.o.log.Error("send final editable text", "chat_id", e.chat.ID, "error", err)
		}
		return
	}
	if err := e.editable.EditText(ctx, e.chat.ID, e.handle, text); err != nil {
		e.o.log.Error("finalize edited text", "chat_id", e.chat.ID, "error", err)
	}
}
