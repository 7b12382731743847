// Package channel defines the uniform contract every chat-platform adapter
// implements (spec §4.8), plus the connection state machine and
// out-of-band send queue shared by all of them. pkg/channel/telegram and
// pkg/channel/whatsapp are the two concrete backends.
package channel

import "context"

// Payload is an outbound message body beyond plain text.
type Payload struct {
	Kind    PayloadKind
	Text    string
	Caption string
	File    []byte
	Mime    string
}

type PayloadKind string

const (
	PayloadText     PayloadKind = "text"
	PayloadPhoto    PayloadKind = "photo"
	PayloadDocument PayloadKind = "document"
)

// InboundEvent is what an adapter publishes for every incoming message or
// metadata change. The orchestrator subscribes to these through
// pkg/events; this package never talks to the orchestrator directly.
type InboundEvent struct {
	Kind        InboundKind
	ChatID      string // channel-qualified, e.g. "tg:123456"
	Content     string
	Sender      string
	SenderName  string
	Attachments []InboundAttachment
}

type InboundKind string

const (
	EventMessageReceived InboundKind = "message_received"
	EventChatMetadata    InboundKind = "chat_metadata"
)

// InboundAttachment is the channel-native shape of one message attachment,
// not yet persisted or content-addressed.
type InboundAttachment struct {
	Kind       string
	MIME       string
	Filename   string
	SizeBytes  int64
	FileID     string
	Width      *int
	Height     *int
	DurationMS *int64
}

// Channel is the uniform contract every chat-platform adapter implements.
type Channel interface {
	// Name identifies the channel for chat-id qualification and logging
	// (e.g. "telegram", "whatsapp").
	Name() string
	// Start connects and runs until ctx is cancelled, publishing inbound
	// events to the Sink given at construction. It returns only on a
	// non-recoverable error or ctx cancellation.
	Start(ctx context.Context) error
	SendText(ctx context.Context, chatID, text string) error
	SendPayload(ctx context.Context, chatID string, p Payload) error
	SetTyping(ctx context.Context, chatID string, on bool) error
	// State returns the adapter's current connection state.
	State() State
}

// Sink receives inbound events published by an adapter. Implemented by
// pkg/events in production; a plain channel-backed stub in tests.
type Sink interface {
	Publish(ctx context.Context, evt InboundEvent)
}

// EditableChannel is implemented by adapters whose platform supports
// revising a message already sent (Telegram's editMessageText). The
// orchestrator edit-batches a streaming reply onto one message for
// channels that implement this, and falls back to buffer-until-end
// (plain SendText once the reply completes) for channels that don't.
type EditableChannel interface {
	Channel
	// SendEditableText sends the first chunk of a streamed reply and
	// returns an opaque per-channel handle for later edits.
	SendEditableText(ctx context.Context, chatID, text string) (handle string, err error)
	// EditText replaces the text of a message previously sent via
	// SendEditableText.
	EditText(ctx context.Context, chatID, handle, text string) error
}
