package models

import "time"

// AttachmentKind enumerates the channel-native media kinds a message may
// carry, per spec §3.
type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentDocument AttachmentKind = "document"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentVoice    AttachmentKind = "voice"
	AttachmentAudio    AttachmentKind = "audio"
)

// Message is an insert-only record of one inbound or outbound chat turn.
// Content is a human-readable summary; attachments are a separate ordered
// collection owned by the message.
type Message struct {
	ID             int64     `json:"id"`
	ChatID         string    `json:"chat_id"`
	ExternalID     string    `json:"external_id"`
	Sender         string    `json:"sender"`
	SenderDisplay  string    `json:"sender_display"`
	Timestamp      time.Time `json:"timestamp"`
	Content        string    `json:"content"`
	AttachmentsIDs []int64   `json:"attachment_ids,omitempty"`
}

// Attachment is owned by exactly one message.
type Attachment struct {
	ID            int64          `json:"id"`
	MessageID     int64          `json:"message_id"`
	Kind          AttachmentKind `json:"kind"`
	MIME          string         `json:"mime"`
	Filename      string         `json:"filename"`
	SizeBytes     int64          `json:"size_bytes"`
	ChannelFileID string         `json:"channel_file_id"`
	LocalPath     string         `json:"local_path,omitempty"` // content-addressed blobstore path
	Width         *int           `json:"width,omitempty"`
	Height        *int           `json:"height,omitempty"`
	DurationMS    *int64         `json:"duration_ms,omitempty"`
}
