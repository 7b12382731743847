package orchestrator

import (
	"time"

	"github.com/hearth-ai/assistant/pkg/router"
)

// pendingTurn is the in-memory context a container-tier turn needs once
// its group-queue worker picks it up. Messages themselves are persisted
// and insert-only, but the handoff from "classified and enqueued" to
// "worker running" happens within the same process, so the routing
// decision and originating channel live here rather than in a new
// persisted column.
type pendingTurn struct {
	messageID  int64
	chatID     string
	groupID    string
	channel    string
	text       string
	tier       router.Tier
	modelHint  string
	enqueuedAt time.Time
}

// turnRequest is the payload carried in an ipc.Request of kind "turn".
type turnRequest struct {
	Tier      string `json:"tier"`
	ModelHint string `json:"model_hint,omitempty"`
	Prompt    string `json:"prompt"`
	ChatID    string `json:"chat_id"`
	Reflect   bool   `json:"reflect,omitempty"` // true on a self-reflection retry
}

const turnRequestKind = "turn"

// turnResponse is the payload carried in the matching ipc.Response once a
// container finishes a turn.
type turnResponse struct {
	Quality      float64 `json:"quality"`
	Error        string  `json:"error,omitempty"`
	Model        string  `json:"model,omitempty"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostEstimate float64 `json:"cost_estimate,omitempty"`
}

// turnOutcome is the in-process result of running one container turn,
// after the stream has been collected and the final response parsed.
type turnOutcome struct {
	text         string
	quality      float64
	model        string
	inputTokens  int
	outputTokens int
	costEstimate float64
}
