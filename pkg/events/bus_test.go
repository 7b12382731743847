package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ai/assistant/pkg/channel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus(time.Hour, testLogger())
	ch, unsub := b.Subscribe(GlobalTopic)
	defer unsub()

	b.Publish(GlobalTopic, EventContainerStatus, []byte(`{"status":"ready"}`))

	select {
	case env := <-ch:
		assert.Equal(t, EventContainerStatus, env.Type)
		assert.Equal(t, int64(1), env.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestSubscribersOnDifferentTopicsDontCrossDeliver(t *testing.T) {
	b := NewBus(time.Hour, testLogger())
	chA, unsubA := b.Subscribe(ChatTopic("tg:1"))
	defer unsubA()
	chB, unsubB := b.Subscribe(ChatTopic("tg:2"))
	defer unsubB()

	b.Publish(ChatTopic("tg:1"), EventMessageReceived, []byte(`{}`))

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("expected subscriber on tg:1 to receive event")
	}

	select {
	case <-chB:
		t.Fatal("subscriber on tg:2 should not receive tg:1's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(time.Hour, testLogger())
	ch, unsub := b.Subscribe(GlobalTopic)
	unsub()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestPollBroadcastsToAllSubscribedTopics(t *testing.T) {
	b := NewBus(20*time.Millisecond, testLogger())
	ch, unsub := b.Subscribe(GlobalTopic)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	select {
	case env := <-ch:
		assert.Equal(t, EventPoll, env.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for poll signal")
	}
}

func TestSinceReturnsOnlyNewerEvents(t *testing.T) {
	b := NewBus(time.Hour, testLogger())
	env1 := b.Publish(GlobalTopic, EventContainerStatus, []byte(`{"n":1}`))
	b.Publish(GlobalTopic, EventContainerStatus, []byte(`{"n":2}`))

	events, overflowed := b.Since(GlobalTopic, env1.ID)
	require.Len(t, events, 1)
	assert.False(t, overflowed)
	assert.Equal(t, env1.ID+1, events[0].ID)
}

func TestSinceReportsOverflowPastRetainedWindow(t *testing.T) {
	b := NewBus(time.Hour, testLogger())
	for i := 0; i < catchupLimit+10; i++ {
		b.Publish(GlobalTopic, EventContainerStatus, []byte(`{}`))
	}

	_, overflowed := b.Since(GlobalTopic, 1)
	assert.True(t, overflowed)
}

func TestSlowSubscriberDropsRatherThanBlocksPublisher(t *testing.T) {
	b := NewBus(time.Hour, testLogger())
	_, unsub := b.Subscribe(GlobalTopic) // never drained
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBacklog+10; i++ {
			b.Publish(GlobalTopic, EventContainerStatus, []byte(`{}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish should never block on a full subscriber channel")
	}
}

func TestInboundSinkPublishesMessageReceivedOnChatTopic(t *testing.T) {
	b := NewBus(time.Hour, testLogger())
	sink := InboundSink{Bus: b}
	ch, unsub := b.Subscribe(ChatTopic("tg:42"))
	defer unsub()

	sink.Publish(context.Background(), channel.InboundEvent{
		Kind:    channel.EventMessageReceived,
		ChatID:  "tg:42",
		Content: "hello",
		Sender:  "tg:42",
	})

	select {
	case env := <-ch:
		assert.Equal(t, EventMessageReceived, env.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound event")
	}
}
