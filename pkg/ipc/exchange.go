package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// pollFallback is how often the watcher re-checks the directory by hand,
// in case an fsnotify event is dropped (overlay filesystems under
// containerd are known to coalesce rapid create+rename pairs).
const pollFallback = 30 * time.Second

// Channel is one group's IPC directory: the orchestrator writes requests
// and reads responses through it, a running container does the reverse.
type Channel struct {
	dir    string
	secret []byte
}

// Open returns a Channel rooted at dir, creating it if necessary.
func Open(dir string, secret []byte) (*Channel, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create ipc directory %s: %w", dir, err)
	}
	return &Channel{dir: dir, secret: secret}, nil
}

func (c *Channel) requestPath(id string) string  { return filepath.Join(c.dir, "request-"+id+".json") }
func (c *Channel) responsePath(id string) string { return filepath.Join(c.dir, "response-"+id+".json") }

// Request is one orchestrator-to-container call: a prompt turn, a tool
// result, or a control message, depending on Kind.
type Request struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the container's answer to a Request with the same ID.
type Response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendRequest writes req atomically and blocks until a matching response
// appears or ctx is done. Used by the orchestrator side.
func (c *Channel) SendRequest(ctx context.Context, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := writeFrameAtomic(c.secret, c.requestPath(req.ID), req); err != nil {
		return nil, fmt.Errorf("write ipc request: %w", err)
	}
	defer os.Remove(c.requestPath(req.ID))

	respPath := c.responsePath(req.ID)
	if err := c.waitForFile(ctx, respPath); err != nil {
		return nil, err
	}
	var resp Response
	if err := readFrame(c.secret, respPath, &resp); err != nil {
		return nil, fmt.Errorf("read ipc response: %w", err)
	}
	os.Remove(respPath)
	return &resp, nil
}

// AwaitRequest blocks until a request file appears and returns it. Used by
// the in-container side, which then does its work and calls SendResponse.
func (c *Channel) AwaitRequest(ctx context.Context, id string) (*Request, error) {
	reqPath := c.requestPath(id)
	if err := c.waitForFile(ctx, reqPath); err != nil {
		return nil, err
	}
	var req Request
	if err := readFrame(c.secret, reqPath, &req); err != nil {
		return nil, fmt.Errorf("read ipc request: %w", err)
	}
	return &req, nil
}

// SendResponse writes resp atomically for the orchestrator to pick up.
func (c *Channel) SendResponse(resp Response) error {
	return writeFrameAtomic(c.secret, c.responsePath(resp.ID), resp)
}

// waitForFile blocks until path exists, using fsnotify with a poll
// fallback so a missed event never hangs the caller forever.
func (c *Channel) waitForFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create ipc watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch ipc directory %s: %w", c.dir, err)
	}

	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("ipc watcher closed unexpectedly")
			}
			if ev.Name == path && (ev.Op&(fsnotify.Create|fsnotify.Rename) != 0) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("ipc watcher closed unexpectedly")
			}
			return fmt.Errorf("ipc watcher error: %w", err)
		case <-ticker.C:
			// fall through to the Stat check at the top of the loop
		}
	}
}
