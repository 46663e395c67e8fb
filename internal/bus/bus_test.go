package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := New()
	ok := b.PublishInbound(&Inbound{Channel: "console", ChatID: "c1", Sender: "op", Text: "hello"})
	if !ok {
		t.Fatalf("publish on an empty queue must succeed")
	}
	msg, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if msg.Text != "hello" || msg.Channel != "console" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.TraceID == "" {
		t.Errorf("trace id must be stamped at ingress")
	}
	if msg.Timestamp.IsZero() {
		t.Errorf("timestamp must be stamped at ingress")
	}
}

func TestPublishInboundKeepsCallerStamps(t *testing.T) {
	b := New()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.PublishInbound(&Inbound{Channel: "test", Text: "x", TraceID: "trace123", Timestamp: ts})
	msg, _ := b.ConsumeInbound(context.Background())
	if msg.TraceID != "trace123" || !msg.Timestamp.Equal(ts) {
		t.Errorf("caller stamps must not be overwritten: %+v", msg)
	}
}

func TestConsumeInboundHonorsContext(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.ConsumeInbound(ctx)
	if err == nil {
		t.Fatalf("consume on an empty queue must return the context error")
	}
}

func TestInboundDropsWhenFull(t *testing.T) {
	b := New()
	for i := 0; i < 100; i++ {
		if !b.PublishInbound(&Inbound{Channel: "test", Text: "fill"}) {
			t.Fatalf("queue filled early at %d", i)
		}
	}
	if b.PublishInbound(&Inbound{Channel: "test", Text: "overflow"}) {
		t.Errorf("publish past capacity must report the drop")
	}
	if b.InboundSize() != 100 {
		t.Errorf("queue size: %d", b.InboundSize())
	}
}

func TestOutboundFanOut(t *testing.T) {
	b := New()
	got := make(chan string, 4)
	b.Subscribe("console", func(m *Outbound) { got <- "console:" + m.Text })
	b.Subscribe("slack", func(m *Outbound) { got <- "slack:" + m.Text })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.PublishOutbound(&Outbound{Channel: "console", ChatID: "c1", Text: "reply"})
	select {
	case v := <-got:
		if v != "console:reply" {
			t.Errorf("delivered to the wrong subscriber: %s", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("outbound never delivered")
	}
	select {
	case v := <-got:
		t.Errorf("subscriber for another channel must not fire: %s", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewTraceIDUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 64; i++ {
		id := NewTraceID()
		if len(id) != 16 {
			t.Fatalf("trace id must be 16 hex chars, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate trace id %q", id)
		}
		seen[id] = struct{}{}
	}
}
