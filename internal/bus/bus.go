// Package bus provides the async message bus between chat channels and
// the dispatcher.
package bus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

// Inbound is a message from a channel to the dispatcher. AgentID is set
// only for pre-resolved direct sends (dashboard), which bypass routing.
type Inbound struct {
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	Sender    string    `json:"sender"`
	AgentID   string    `json:"agent_id,omitempty"`
	Text      string    `json:"text"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Outbound is a reply from the dispatcher back to a channel.
type Outbound struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Text    string `json:"text"`
	TraceID string `json:"trace_id"`
}

// NewTraceID mints an 8-byte hex trace id at ingress.
func NewTraceID() string {
	var b [8]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// Bus decouples channels from the dispatcher.
type Bus struct {
	inbound  chan *Inbound
	outbound chan *Outbound
	subs     map[string][]func(*Outbound)
	mu       sync.RWMutex
}

// New creates a bus with buffered inbound/outbound queues.
func New() *Bus {
	return &Bus{
		inbound:  make(chan *Inbound, 100),
		outbound: make(chan *Outbound, 100),
		subs:     map[string][]func(*Outbound){},
	}
}

// PublishInbound queues a message for the dispatcher, stamping timestamp
// and trace id when missing. Returns false when the queue is full; the
// caller decides whether that is worth reporting.
func (b *Bus) PublishInbound(msg *Inbound) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.TraceID == "" {
		msg.TraceID = NewTraceID()
	}
	select {
	case b.inbound <- msg:
		return true
	default:
		return false
	}
}

// ConsumeInbound blocks until a message is available or the context is
// cancelled.
func (b *Bus) ConsumeInbound(ctx context.Context) (*Inbound, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound queues a reply for channel delivery. Drops on a full
// queue rather than blocking a turn.
func (b *Bus) PublishOutbound(msg *Outbound) bool {
	select {
	case b.outbound <- msg:
		return true
	default:
		return false
	}
}

// Subscribe registers a delivery callback for one channel name.
func (b *Bus) Subscribe(channel string, fn func(*Outbound)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], fn)
}

// DispatchOutbound fans outbound messages out to subscribers. Run as a
// goroutine.
func (b *Bus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()
			for _, fn := range callbacks {
				fn(msg)
			}
		}
	}
}

// InboundSize returns the number of queued inbound messages.
func (b *Bus) InboundSize() int { return len(b.inbound) }

// OutboundSize returns the number of queued outbound messages.
func (b *Bus) OutboundSize() int { return len(b.outbound) }
