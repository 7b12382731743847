package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hearth-ai/assistant/pkg/channel"
)

// subscriberBacklog bounds a single subscriber's channel; a slow consumer
// drops events rather than stalling the publisher, same tradeoff as
// pkg/groupqueue's bounded queue. The 30s poll signal lets a subscriber
// that dropped events reconcile from the store instead of silently
// drifting.
const subscriberBacklog = 64

// DefaultPollInterval is the missed-event fallback poll cadence of spec
// §4.9.
const DefaultPollInterval = 30 * time.Second

// Bus is the in-process publish/subscribe hub. It satisfies
// channel.Sink so channel adapters can publish inbound events directly.
type Bus struct {
	mu           sync.RWMutex
	buffers      map[string]*ringBuffer
	subs         map[string]map[int]chan Envelope
	nextSubID    int
	pollInterval time.Duration
	log          *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBus constructs a Bus. pollInterval <= 0 uses DefaultPollInterval.
func NewBus(pollInterval time.Duration, log *slog.Logger) *Bus {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Bus{
		buffers:      make(map[string]*ringBuffer),
		subs:         make(map[string]map[int]chan Envelope),
		pollInterval: pollInterval,
		log:          log,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the background poll-signal loop.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				b.broadcastPoll()
			}
		}
	}()
}

// Stop halts the poll loop and closes all subscriber channels.
func (b *Bus) Stop() {
	close(b.stopCh)
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topicSubs := range b.subs {
		for _, ch := range topicSubs {
			close(ch)
		}
	}
	b.subs = make(map[string]map[int]chan Envelope)
}

func (b *Bus) broadcastPoll() {
	b.mu.RLock()
	topics := make([]string, 0, len(b.subs))
	for t := range b.subs {
		topics = append(topics, t)
	}
	b.mu.RUnlock()
	for _, t := range topics {
		b.fanOut(Envelope{Topic: t, Type: EventPoll})
	}
}

// Publish appends an event to the topic's ring buffer (for catchup) and
// fans it out to live subscribers.
func (b *Bus) Publish(topic, typ string, payload []byte) Envelope {
	buf := b.bufferFor(topic)
	env := buf.append(topic, typ, payload)
	b.fanOut(env)
	return env
}

// publishEnvelope marshals v and publishes it. Retained for compatibility
// with handler signatures expecting an error return.
func (b *Bus) publishEnvelope(topic, typ string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Publish(topic, typ, payload)
	return nil
}

func (b *Bus) bufferFor(topic string) *ringBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[topic]
	if !ok {
		buf = newRingBuffer()
		b.buffers[topic] = buf
	}
	return buf
}

func (b *Bus) fanOut(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[env.Topic] {
		select {
		case ch <- env:
		default:
			b.log.Warn("subscriber backlog full, dropping event; relying on poll fallback", "topic", env.Topic)
		}
	}
}

// Subscribe registers a new in-process subscriber for topic. The returned
// unsubscribe func must be called exactly once when the subscriber is
// done; it closes the channel.
func (b *Bus) Subscribe(topic string) (<-chan Envelope, func()) {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	ch := make(chan Envelope, subscriberBacklog)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Envelope)
	}
	b.subs[topic][id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if topicSubs, ok := b.subs[topic]; ok {
			if c, ok := topicSubs[id]; ok {
				delete(topicSubs, id)
				close(c)
			}
		}
	}
	return ch, unsubscribe
}

// Since returns buffered events after sinceID for catchup, and whether the
// buffer had already dropped older events the subscriber needs.
func (b *Bus) Since(topic string, sinceID int64) ([]Envelope, bool) {
	buf := b.bufferFor(topic)
	return buf.since(sinceID)
}

// InboundSink adapts a Bus to channel.Sink so a channel adapter can
// publish inbound events without depending on the bus's own Publish
// signature, which carries an explicit topic and type instead of an
// InboundEvent.
type InboundSink struct {
	Bus *Bus
}

// Publish implements channel.Sink: a channel adapter's inbound event is
// translated to the matching topic and payload and published on the bus.
// This is a side-channel for observers; persistence and orchestration
// happen elsewhere (pkg/orchestrator subscribes directly).
func (s InboundSink) Publish(ctx context.Context, evt channel.InboundEvent) {
	s.Bus.publishInbound(ctx, evt)
}

func (b *Bus) publishInbound(ctx context.Context, evt channel.InboundEvent) {
	switch evt.Kind {
	case channel.EventMessageReceived:
		_ = b.publishEnvelope(ChatTopic(evt.ChatID), EventMessageReceived, MessageReceivedPayload{
			Type:      EventMessageReceived,
			ChatID:    evt.ChatID,
			Sender:    evt.Sender,
			Content:   evt.Content,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	case channel.EventChatMetadata:
		_ = b.publishEnvelope(ChatTopic(evt.ChatID), EventChatMetadata, ChatMetadataPayload{
			Type:        EventChatMetadata,
			ChatID:      evt.ChatID,
			DisplayName: evt.SenderName,
			Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}
