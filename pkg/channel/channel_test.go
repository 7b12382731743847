package channel

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStateMachineBackoffSchedule(t *testing.T) {
	sm := NewStateMachine("telegram", testLogger())

	wantDelays := []int64{5, 10, 30, 60, 300}
	for _, want := range wantDelays {
		d, ok := sm.NextBackoff()
		assert.True(t, ok)
		assert.Equal(t, want, int64(d.Seconds()))
	}

	_, ok := sm.NextBackoff()
	assert.False(t, ok, "backoff schedule should be exhausted after 5 attempts")
}

func TestStateMachineConnectedResetsAttemptCounter(t *testing.T) {
	sm := NewStateMachine("telegram", testLogger())

	sm.NextBackoff()
	sm.NextBackoff()
	sm.Transition(StateConnected)

	d, ok := sm.NextBackoff()
	assert.True(t, ok)
	assert.Equal(t, int64(5), int64(d.Seconds()), "a fresh connect should restart the backoff schedule")
}

func TestOutboxDrainsInOrder(t *testing.T) {
	var ob Outbox
	ob.Enqueue("tg:1", "first", nil)
	ob.Enqueue("tg:1", "second", nil)
	ob.Enqueue("tg:2", "third", nil)

	assert.Equal(t, 3, ob.Len())
	drained := ob.Drain()
	assert.Equal(t, []string{"first", "second", "third"}, []string{drained[0].Text, drained[1].Text, drained[2].Text})
	assert.Equal(t, 0, ob.Len())
}
