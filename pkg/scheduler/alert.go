package scheduler

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/hearth-ai/assistant/pkg/models"
)

// AdminAlerter sends a one-time notice when a scheduled task's circuit
// breaker trips. Implemented over slack-go/slack so an operator sees a
// paused task without having to poll the store.
type AdminAlerter interface {
	AlertTaskPaused(ctx context.Context, task models.ScheduledTask) error
}

// SlackAlerter posts a circuit-breaker notice to a fixed admin channel.
type SlackAlerter struct {
	api       *goslack.Client
	channelID string
}

// NewSlackAlerter builds a SlackAlerter posting to channelID with token.
func NewSlackAlerter(token, channelID string) *SlackAlerter {
	return &SlackAlerter{api: goslack.New(token), channelID: channelID}
}

// AlertTaskPaused posts a message naming the task and its group.
func (a *SlackAlerter) AlertTaskPaused(ctx context.Context, task models.ScheduledTask) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	text := fmt.Sprintf("Scheduled task %s for group %q paused after %d consecutive failures.",
		task.ID, task.GroupID, task.ConsecutiveFailures)
	_, _, err := a.api.PostMessageContext(ctx, a.channelID, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post task-paused alert: %w", err)
	}
	return nil
}
