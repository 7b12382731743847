package channel

import "sync"

// PendingSend is one buffered outbound operation, queued while the channel
// is disconnected and flushed in order once it reconnects. Payload is nil
// for a plain text send.
type PendingSend struct {
	ChatID  string
	Text    string
	Payload *Payload
}

// Outbox buffers sends made while disconnected so they flush in order on
// reconnect, per spec §4.8's out-of-band queue requirement.
type Outbox struct {
	mu      sync.Mutex
	pending []PendingSend
}

func (o *Outbox) Enqueue(chatID, text string, p *Payload) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, PendingSend{ChatID: chatID, Text: text, Payload: p})
}

// Drain returns and clears all buffered sends, in enqueue order.
func (o *Outbox) Drain() []PendingSend {
	o.mu.Lock()
	defer o.mu.Unlock()
	drained := o.pending
	o.pending = nil
	return drained
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
