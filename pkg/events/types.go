// Package events is the in-process publish/subscribe bus tying the
// channel adapters, group queue, container pool, and scheduler to the
// orchestrator (spec §4.9). It is a single-process Bus backed by a
// bounded per-topic ring buffer, since this assistant is a single
// embedded-SQLite process with no cross-pod delivery requirement. Every
// subscriber additionally receives a periodic poll signal (default 30s)
// so a consumer that missed an event under backlog can reconcile against
// the store instead of silently stalling.
package events

// Event type tags carried in Envelope.Type.
const (
	EventMessageReceived = "message_received"
	EventChatMetadata    = "chat_metadata"
	EventQueuePosition   = "queue.position"
	EventStreamChunk     = "stream.chunk"
	EventReplyCompleted  = "reply.completed"
	EventContainerStatus = "container.status"
	EventScheduledPaused = "scheduled_task.paused"
	EventPoll            = "poll" // synthetic missed-event fallback signal
)

// GlobalTopic carries assistant-wide events not scoped to one chat (e.g.
// container and scheduler status).
const GlobalTopic = "global"

// ChatTopic returns the topic name for one chat's events.
func ChatTopic(chatID string) string {
	return "chat:" + chatID
}
