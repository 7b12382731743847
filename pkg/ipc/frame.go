// Package ipc is the on-disk transport between the orchestrator and a
// running container: every exchange is a small JSON file written to a
// shared directory, signed with HMAC-SHA256 so a container can never
// forge a message on behalf of another (spec §4.3).
package ipc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/hearth-ai/assistant/pkg/apperrors"
)

// Frame is the on-wire envelope for every IPC message: a JSON payload
// plus an HMAC-SHA256 digest over the canonical payload bytes.
type Frame struct {
	Payload json.RawMessage `json:"payload"`
	HMAC    string          `json:"hmac"`
}

// Sign marshals v to its canonical JSON form and wraps it in a Frame
// signed with secret.
func Sign(secret []byte, v any) (Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal ipc payload: %w", err)
	}
	return Frame{Payload: payload, HMAC: mac(secret, payload)}, nil
}

// Verify checks f's HMAC in constant time and, if valid, unmarshals its
// payload into v. A mismatched HMAC returns apperrors.ErrIntegrityRejected
// so callers can count and discard the frame per spec.
func Verify(secret []byte, f Frame, v any) error {
	want := mac(secret, f.Payload)
	if !hmac.Equal([]byte(want), []byte(f.HMAC)) {
		return fmt.Errorf("%w: ipc frame hmac mismatch", apperrors.ErrIntegrityRejected)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("unmarshal ipc payload: %w", err)
	}
	return nil
}

func mac(secret, payload []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
