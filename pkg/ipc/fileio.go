package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeFrameAtomic writes v as a signed Frame to path by writing to a
// temp file in the same directory and renaming over it, so a watcher
// never observes a partially written frame.
func writeFrameAtomic(secret []byte, path string, v any) error {
	frame, err := Sign(secret, v)
	if err != nil {
		return err
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame envelope: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ipc file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write ipc frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close ipc frame: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename ipc frame into place: %w", err)
	}
	return nil
}

// readFrame reads and HMAC-verifies the frame at path. A frame that
// fails verification is deleted and the rejection counted by the caller
// via the returned apperrors.ErrIntegrityRejected.
func readFrame(secret []byte, path string, v any) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ipc frame %s: %w", path, err)
	}

	var frame Frame
	if err := json.Unmarshal(body, &frame); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("unmarshal ipc frame envelope %s: %w", path, err)
	}

	if err := Verify(secret, frame, v); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}
