package orchestrator

import (
	"errors"

	"github.com/hearth-ai/assistant/pkg/apperrors"
)

// translateError maps an internal error to a short message a chat user
// can read, plus an optional one-word follow-up action for logging and
// alerting. Unrecognized errors fall through to a generic message rather
// than leaking internals.
func translateError(err error) (message, action string) {
	if err == nil {
		return "", ""
	}

	var throttled *apperrors.ThrottledError
	var spawnFailed *apperrors.ContainerSpawnFailedError
	var timeout *apperrors.ContainerTimeoutError
	var stuck *apperrors.ContainerStuckError

	switch {
	case errors.As(err, &throttled):
		return "The model provider is rate-limiting me right now, try again shortly.", "retry_later"
	case errors.As(err, &spawnFailed):
		return "I couldn't start a workspace for this request. An admin has been notified.", "admin_alert"
	case errors.As(err, &timeout):
		return "That took longer than expected and timed out. Want me to try again?", "offer_retry"
	case errors.As(err, &stuck):
		return "Something got stuck on my end. An admin has been notified.", "admin_alert"
	case errors.Is(err, apperrors.ErrBusyQueue):
		return "I'm at capacity right now — your message is queued and I'll get to it.", ""
	case errors.Is(err, apperrors.ErrBadInput):
		return "I couldn't make sense of that message.", ""
	case errors.Is(err, apperrors.ErrAuthFailure):
		return "This channel's connection needs re-authenticating. An admin has been notified.", "admin_alert"
	case errors.Is(err, apperrors.ErrKnowledgeUnavailable):
		return "My knowledge store is unavailable, answering without it.", ""
	case errors.Is(err, apperrors.ErrIntegrityRejected):
		return "I rejected a corrupted internal message. An admin has been notified.", "admin_alert"
	case errors.Is(err, apperrors.ErrPartialOutput):
		return "My reply got cut off partway through. Retrying once.", "auto_retry"
	case errors.Is(err, apperrors.ErrScheduleBrokenTask):
		return "A scheduled task kept failing and has been paused. An admin has been notified.", "admin_alert"
	case errors.Is(err, apperrors.ErrTransientIO):
		return "I hit a temporary hiccup, try again in a moment.", ""
	default:
		return "Something went wrong handling that.", ""
	}
}
