package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	streamPollInterval  = 100 * time.Millisecond
	streamDebounce      = 100 * time.Millisecond
	streamHeartbeatWait = 30 * time.Second
)

// StreamChunk is one line of a running container's token stream.
type StreamChunk struct {
	Index int       `json:"index"`
	Text  string    `json:"text"`
	TS    time.Time `json:"ts"`
}

// StreamDone marks the end of a stream, written once the container has
// flushed every chunk.
type StreamDone struct {
	TotalChunks int       `json:"total_chunks"`
	CompletedAt time.Time `json:"completed_at"`
}

func (c *Channel) streamPath(id string) string { return filepath.Join(c.dir, "stream-"+id+".jsonl") }
func (c *Channel) doneePath(id string) string  { return filepath.Join(c.dir, "stream-"+id+".done") }

// StreamWriter appends chunks to a group's stream file and signals
// completion with Close. Used by the in-container side.
type StreamWriter struct {
	ch     *Channel
	id     string
	path   string
	file   *os.File
	secret []byte
	index  int
}

// OpenStreamWriter creates (or truncates) the stream file for id.
func (c *Channel) OpenStreamWriter(id string) (*StreamWriter, error) {
	path := c.streamPath(id)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open stream file %s: %w", path, err)
	}
	return &StreamWriter{ch: c, id: id, path: path, file: f, secret: c.secret}, nil
}

// Write appends one text chunk as a signed JSON line.
func (w *StreamWriter) Write(text string) error {
	frame, err := Sign(w.secret, StreamChunk{Index: w.index, Text: text, TS: time.Now().UTC()})
	if err != nil {
		return err
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal stream chunk: %w", err)
	}
	if _, err := w.file.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("write stream chunk: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("flush stream chunk: %w", err)
	}
	w.index++
	return nil
}

// Close flushes the stream file and writes the completion marker.
func (w *StreamWriter) Close() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close stream file: %w", err)
	}
	done := StreamDone{TotalChunks: w.index, CompletedAt: time.Now().UTC()}
	return writeFrameAtomic(w.secret, w.ch.doneePath(w.id), done)
}

// ReadStream tails a group's stream file, delivering verified chunks to
// onChunk as they arrive, until the stream.done marker shows up or ctx is
// done. A heartbeat timeout with no new bytes and no completion marker
// returns apperrors.ErrPartialOutput via the caller's own wrapping — this
// function returns the raw context/IO error and lets the orchestrator
// classify it.
func (c *Channel) ReadStream(ctx context.Context, id string, onChunk func(StreamChunk) error) (*StreamDone, error) {
	streamPath := c.streamPath(id)
	donePath := c.doneePath(id)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create stream watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(c.dir); err != nil {
		return nil, fmt.Errorf("watch ipc directory %s: %w", c.dir, err)
	}

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	heartbeat := time.NewTimer(streamHeartbeatWait)
	defer heartbeat.Stop()

	var offset int64
	drain := func() error {
		f, err := os.Open(streamPath)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("open stream file %s: %w", streamPath, err)
		}
		defer f.Close()
		if _, err := f.Seek(offset, 0); err != nil {
			return fmt.Errorf("seek stream file: %w", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		progressed := false
		for scanner.Scan() {
			line := scanner.Bytes()
			var frame Frame
			if err := json.Unmarshal(line, &frame); err != nil {
				continue
			}
			var chunk StreamChunk
			if err := Verify(c.secret, frame, &chunk); err != nil {
				continue
			}
			if err := onChunk(chunk); err != nil {
				return err
			}
			progressed = true
		}
		pos, err := f.Seek(0, 1)
		if err == nil {
			offset = pos
		}
		if progressed {
			heartbeat.Reset(streamHeartbeatWait)
		}
		return nil
	}

	checkDone := func() (*StreamDone, error) {
		if _, err := os.Stat(donePath); err != nil {
			return nil, nil
		}
		var done StreamDone
		if err := readFrame(c.secret, donePath, &done); err != nil {
			return nil, fmt.Errorf("read stream completion: %w", err)
		}
		return &done, nil
	}

	for {
		if err := drain(); err != nil {
			return nil, err
		}
		if done, err := checkDone(); err != nil {
			return nil, err
		} else if done != nil {
			_ = drain()
			return done, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-heartbeat.C:
			return nil, fmt.Errorf("stream %s: no activity for %s without completion marker", id, streamHeartbeatWait)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("stream watcher closed unexpectedly")
			}
			if ev.Name == streamPath || ev.Name == donePath {
				debounce.Reset(streamDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("stream watcher closed unexpectedly")
			}
			return nil, fmt.Errorf("stream watcher error: %w", err)
		case <-debounce.C:
			// coalesced create+rename pair settled, loop will drain above
		case <-ticker.C:
			// poll fallback, loop will drain above
		}
	}
}
