package orchestrator

import (
	"context"

	"github.com/hearth-ai/assistant/pkg/models"
)

// selfReflect retries a container_full turn up to MaxSelfReflections
// times when its self-reported quality score falls below the
// configured threshold (spec §4.9), keeping the best-scoring outcome
// seen. Each retry sets Reflect so the container can see it is being
// asked to improve on its own prior answer.
func (o *Orchestrator) selfReflect(ctx context.Context, chat models.Chat, pt pendingTurn, containerID string, best turnOutcome) turnOutcome {
	for i := 0; i < o.cfg.MaxSelfReflections; i++ {
		if best.quality >= o.cfg.QualityThreshold {
			break
		}
		attempt, err := o.runTurn(ctx, chat, pt, containerID, true)
		if err != nil {
			o.log.Warn("self-reflection attempt failed, keeping prior answer", "chat_id", chat.ID, "attempt", i+1, "error", err)
			break
		}
		if attempt.quality > best.quality {
			best = attempt
		}
	}
	return best
}
