// Package dispatch sequences inbound chat messages: slash commands are
// answered inline, everything else is routed to an agent and queued so
// that turns for one agent run strictly in accepted order while
// different agents run concurrently.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/bus"
	"github.com/droverhq/drover/internal/orcerr"
	"github.com/droverhq/drover/internal/orchestrator"
)

// Options configures the dispatcher.
type Options struct {
	Bus          *bus.Bus
	Orchestrator *orchestrator.Orchestrator
	Workers      int
	RunTimeout   time.Duration
	DrainTimeout time.Duration
}

// Dispatcher consumes the bus inbound queue and guarantees at most one
// in-flight turn per agent.
type Dispatcher struct {
	bus     *bus.Bus
	orch    *orchestrator.Orchestrator
	workers chan struct{}

	runTimeout   time.Duration
	drainTimeout time.Duration

	mu     sync.Mutex
	queues map[string]*agentQueue

	wg        sync.WaitGroup
	runCtx    context.Context
	runCancel context.CancelFunc
}

// agentQueue holds messages accepted for one agent, in order. running
// marks an active drain goroutine; there is never more than one.
type agentQueue struct {
	items   []*bus.Inbound
	running bool
}

// New creates a dispatcher and registers its pending-input probe with
// the orchestrator.
func New(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 120 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		bus:          opts.Bus,
		orch:         opts.Orchestrator,
		workers:      make(chan struct{}, opts.Workers),
		runTimeout:   opts.RunTimeout,
		drainTimeout: opts.DrainTimeout,
		queues:       map[string]*agentQueue{},
		runCtx:       runCtx,
		runCancel:    runCancel,
	}
	opts.Orchestrator.SetQueuedFn(d.Queued)
	return d
}

// Queued reports whether more input is waiting for an agent. Used by
// the turn pipeline to keep the agent busy between queued turns.
func (d *Dispatcher) Queued(agentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[agentID]
	return ok && len(q.items) > 0
}

// Run consumes inbound messages until the context is cancelled, then
// drains in-flight turns. Every inbound message yields exactly one
// outbound reply: turn response, command output, or a rendered error.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, err := d.bus.ConsumeInbound(ctx)
		if err != nil {
			d.drain()
			return err
		}
		d.accept(ctx, msg)
	}
}

func (d *Dispatcher) accept(ctx context.Context, msg *bus.Inbound) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		d.reply(msg, d.handleCommand(ctx, text))
		return
	}

	agentID := msg.AgentID
	if agentID == "" {
		target, body, rule, err := d.orch.RouteMessage(ctx, text)
		if err != nil {
			slog.Warn("routing failed", "trace", msg.TraceID, "rule", rule, "error", err)
			d.reply(msg, orcerr.Render(err))
			return
		}
		agentID = target.ID
		msg.Text = body
	}
	d.enqueue(agentID, msg)
}

// enqueue appends the message to the agent's queue and starts a drain
// goroutine when none is active. The single consumer goroutine calls
// this, so queue order is accepted order.
func (d *Dispatcher) enqueue(agentID string, msg *bus.Inbound) {
	d.mu.Lock()
	q, ok := d.queues[agentID]
	if !ok {
		q = &agentQueue{}
		d.queues[agentID] = q
	}
	q.items = append(q.items, msg)
	start := !q.running
	if start {
		q.running = true
		d.wg.Add(1)
	}
	d.mu.Unlock()
	if start {
		go d.drainAgent(agentID)
	}
}

// drainAgent runs the agent's queued turns one at a time, in order.
func (d *Dispatcher) drainAgent(agentID string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[agentID]
		if q == nil || len(q.items) == 0 {
			if q != nil {
				q.running = false
			}
			d.mu.Unlock()
			return
		}
		msg := q.items[0]
		q.items = q.items[1:]
		d.mu.Unlock()

		select {
		case d.workers <- struct{}{}:
		case <-d.runCtx.Done():
			d.reply(msg, "Shutting down; message not processed.")
			continue
		}
		d.runOne(agentID, msg)
		<-d.workers
	}
}

func (d *Dispatcher) runOne(agentID string, msg *bus.Inbound) {
	ctx, cancel := context.WithTimeout(d.runCtx, d.runTimeout)
	defer cancel()

	out, err := d.orch.RunTurn(ctx, agentID, msg.Text, msg.Sender)
	if err != nil {
		slog.Warn("turn ended with error", "agent", agentID, "trace", msg.TraceID, "error", err)
		if out == "" {
			out = orcerr.Render(err)
		}
	}
	d.reply(msg, out)
}

// dropQueue discards pending input for a deleted agent.
func (d *Dispatcher) dropQueue(agentID string) {
	d.mu.Lock()
	q, ok := d.queues[agentID]
	if ok {
		q.items = nil
	}
	d.mu.Unlock()
}

func (d *Dispatcher) reply(msg *bus.Inbound, text string) {
	if text == "" {
		return
	}
	ok := d.bus.PublishOutbound(&bus.Outbound{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Text:    text,
		TraceID: msg.TraceID,
	})
	if !ok {
		slog.Error("outbound queue full, reply dropped", "channel", msg.Channel, "trace", msg.TraceID)
	}
}

// drain waits for in-flight turns up to the drain timeout, then cancels
// their run contexts.
func (d *Dispatcher) drain() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.drainTimeout):
		slog.Warn("drain timeout reached, cancelling in-flight turns")
	}
	d.runCancel()
	<-done
}
