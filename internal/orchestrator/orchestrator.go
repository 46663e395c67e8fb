package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/model"
	"github.com/droverhq/drover/internal/orcerr"
	"github.com/droverhq/drover/internal/reasoner"
)

// Options configures the orchestrator core.
type Options struct {
	Store         Persistence
	Reasoner      reasoner.Reasoner
	MaxAgents     int
	MinRefLen     int
	HistoryWindow int
	PromptBudget  int
}

// Orchestrator ties the registry, router, lifecycle operations and the
// turn pipeline together.
type Orchestrator struct {
	registry *Registry
	router   *Router
	store    Persistence
	reasoner reasoner.Reasoner

	maxAgents     int
	minRefLen     int
	historyWindow int
	promptBudget  int

	// queued reports whether more input is waiting for an agent; the
	// busy->idle flip at turn end is skipped while it returns true.
	// Injected by the dispatcher.
	queued func(agentID string) bool

	// routeMu makes resolve-or-create atomic so a burst of "new task"
	// messages cannot double-create.
	routeMu sync.Mutex
}

// New creates an orchestrator. Call Registry().Load before serving.
func New(opts Options) *Orchestrator {
	if opts.MaxAgents <= 0 {
		opts.MaxAgents = 10
	}
	if opts.MinRefLen <= 0 {
		opts.MinRefLen = model.ShortIDLen
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	if opts.PromptBudget <= 0 {
		opts.PromptBudget = 24576
	}
	return &Orchestrator{
		registry:      NewRegistry(opts.Store),
		router:        NewRouter(opts.MinRefLen),
		store:         opts.Store,
		reasoner:      opts.Reasoner,
		maxAgents:     opts.MaxAgents,
		minRefLen:     opts.MinRefLen,
		historyWindow: opts.HistoryWindow,
		promptBudget:  opts.PromptBudget,
	}
}

// Registry exposes the in-memory agent view for read paths.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// SetQueuedFn injects the dispatcher's pending-input probe.
func (o *Orchestrator) SetQueuedFn(fn func(agentID string) bool) { o.queued = fn }

// Create allocates a fresh idle agent and persists it.
func (o *Orchestrator) Create(ctx context.Context, goal, title string) (*model.Agent, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, &orcerr.ValidationError{Msg: "goal must not be empty"}
	}
	live := 0
	for _, a := range o.registry.List() {
		if a.Live() {
			live++
		}
	}
	if live >= o.maxAgents {
		return nil, &orcerr.ValidationError{Msg: fmt.Sprintf("agent limit reached (%d); stop or delete one first", o.maxAgents)}
	}
	a := model.NewAgent(goal, title)
	if err := o.registry.Insert(ctx, a); err != nil {
		return nil, err
	}
	o.log(ctx, a.ID, "info", "Agent created: "+a.Title)
	slog.Info("agent created", "agent", a.ID, "title", a.Title)
	return a.Clone(), nil
}

// Resolve maps a full id or an id prefix of at least the minimum
// reference length to exactly one agent, stopped agents included.
func (o *Orchestrator) Resolve(ref string) (*model.Agent, error) {
	ref = strings.TrimSpace(ref)
	if len(ref) < o.minRefLen {
		return nil, &orcerr.NotFoundError{Ref: ref}
	}
	var matches []*model.Agent
	for _, a := range o.registry.List() {
		if strings.HasPrefix(a.ID, ref) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &orcerr.NotFoundError{Ref: ref}
	case 1:
		return matches[0], nil
	default:
		shorts := make([]string, len(matches))
		for i, a := range matches {
			shorts[i] = a.ShortID()
		}
		return nil, &orcerr.AmbiguousError{Ref: ref, Candidates: shorts}
	}
}

// Stop sets the agent stopped. Stopping a stopped agent is a no-op. An
// in-flight turn is not killed; its completion leaves the agent stopped.
func (o *Orchestrator) Stop(ctx context.Context, ref string) (*model.Agent, error) {
	a, err := o.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if a.Status == model.StatusStopped {
		return a, nil
	}
	updated, err := o.registry.Update(ctx, a.ID, func(ag *model.Agent) {
		ag.Status = model.StatusStopped
		ag.CurrentTask = ""
	})
	if err != nil {
		return nil, err
	}
	o.log(ctx, a.ID, "info", "Agent stopped")
	slog.Info("agent stopped", "agent", a.ID, "title", a.Title)
	return updated, nil
}

// Delete removes the agent and all its logs and chat rows. Irreversible.
func (o *Orchestrator) Delete(ctx context.Context, ref string) (*model.Agent, error) {
	a, err := o.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if err := o.registry.Remove(ctx, a.ID); err != nil {
		return nil, err
	}
	slog.Info("agent deleted", "agent", a.ID, "title", a.Title)
	return a, nil
}

// ResetAll stops every non-stopped agent and returns how many were
// stopped. Idempotent.
func (o *Orchestrator) ResetAll(ctx context.Context) (int, error) {
	stopped := 0
	for _, a := range o.registry.List() {
		if !a.Live() {
			continue
		}
		if _, err := o.Stop(ctx, a.ID); err != nil {
			return stopped, err
		}
		stopped++
	}
	return stopped, nil
}

// DryRunRoute evaluates the cascade with no side effects.
func (o *Orchestrator) DryRunRoute(text string) Decision {
	return o.router.Route(text, o.registry.List())
}

// RouteMessage resolves inbound text to a target agent, creating one
// when the cascade asks for it. Resolution and creation happen under a
// single routing mutex so concurrent bursts observe a consistent
// registry snapshot.
func (o *Orchestrator) RouteMessage(ctx context.Context, text string) (*model.Agent, string, string, error) {
	o.routeMu.Lock()
	defer o.routeMu.Unlock()

	d := o.router.Route(text, o.registry.List())
	var target *model.Agent
	if d.CreateGoal != "" {
		a, err := o.Create(ctx, d.CreateGoal, "")
		if err != nil {
			return nil, "", d.Rule, err
		}
		target = a
	} else {
		a, ok := o.registry.Get(d.AgentID)
		if !ok {
			return nil, "", d.Rule, &orcerr.NotFoundError{Ref: d.AgentID}
		}
		target = a
	}
	o.router.RecordRouted(target.ID)
	slog.Info("routed message", "rule", d.Rule, "agent", target.ID, "title", target.Title)
	return target, d.Body, d.Rule, nil
}

// RunTurn executes one turn for an already-resolved agent: persist the
// user turn, go busy, drive the reasoner, persist the reply, go idle,
// record the outbound chat row. It returns the text to deliver on the
// originating channel; on failure that text is a short notice and the
// error carries the detail.
func (o *Orchestrator) RunTurn(ctx context.Context, agentID, text, sender string) (string, error) {
	a, ok := o.registry.Get(agentID)
	if !ok {
		return "", &orcerr.NotFoundError{Ref: agentID}
	}
	if a.Status == model.StatusStopped {
		return "", &orcerr.AgentStoppedError{ID: a.ID, Title: a.Title}
	}

	task := text
	if len(task) > 60 {
		task = task[:60]
	}
	a, err := o.registry.Update(ctx, agentID, func(ag *model.Agent) {
		ag.Status = model.StatusBusy
		ag.CurrentTask = "Processing: " + task
		ag.LastActive = time.Now().UTC()
		ag.AppendTurn(model.RoleUser, text)
	})
	if err != nil {
		return "", err
	}
	o.chat(ctx, model.NewChatMessage(agentID, model.DirectionInbound, sender, a.Title, text))
	o.log(ctx, agentID, "info", "Task started")

	prompt := BuildPrompt(a.Goal, a.History, o.historyWindow, o.promptBudget)

	started := time.Now()
	reply, runErr := o.reasoner.Run(ctx, prompt)
	elapsed := time.Since(started)

	if runErr != nil {
		o.finishTurn(ctx, agentID, "", elapsed, false)
		o.log(ctx, agentID, "error", "Task failed: "+runErr.Error())
		slog.Error("turn failed", "agent", agentID, "error", runErr, "duration", elapsed)
		notice := orcerr.Render(&orcerr.ExternalProcessError{Op: "run", Err: runErr})
		o.chat(ctx, model.NewChatMessage(agentID, model.DirectionOutbound, a.Title, a.Title, notice))
		return fmt.Sprintf("[%s] %s", a.Title, notice), runErr
	}

	updated := o.finishTurn(ctx, agentID, reply, elapsed, true)
	title := a.Title
	if updated != nil {
		title = updated.Title
	}
	o.log(ctx, agentID, "info", "Task finished")
	slog.Info("turn finished", "agent", agentID, "duration", elapsed)
	o.chat(ctx, model.NewChatMessage(agentID, model.DirectionOutbound, title, title, reply))
	return fmt.Sprintf("[%s] %s", title, reply), nil
}

// finishTurn applies the end-of-turn mutation. The busy->idle flip is
// skipped when the status changed underneath (stop during the turn) or
// more input is queued for the agent; the durable write always lands
// before the in-memory status flips.
func (o *Orchestrator) finishTurn(ctx context.Context, agentID, reply string, elapsed time.Duration, ok bool) *model.Agent {
	updated, err := o.registry.Update(ctx, agentID, func(ag *model.Agent) {
		if ok {
			ag.AppendTurn(model.RoleAgent, reply)
			ag.Bump("turns", 1)
		} else {
			ag.Bump("failures", 1)
		}
		ag.Metrics["last_duration_ms"] = elapsed.Milliseconds()
		ag.CurrentTask = ""
		ag.LastActive = time.Now().UTC()
		if ag.Status == model.StatusBusy && (o.queued == nil || !o.queued(agentID)) {
			ag.Status = model.StatusIdle
		}
	})
	if err != nil {
		// Deleted mid-turn or store failure: the final writes are dropped.
		slog.Warn("turn completion not persisted", "agent", agentID, "error", err)
		return nil
	}
	return updated
}

func (o *Orchestrator) log(ctx context.Context, agentID, level, message string) {
	if err := o.store.AddLog(ctx, model.NewLogEntry(agentID, level, message)); err != nil {
		slog.Error("failed to record log entry", "agent", agentID, "error", err)
	}
}

func (o *Orchestrator) chat(ctx context.Context, m *model.ChatMessage) {
	if err := o.store.AddChat(ctx, m); err != nil {
		slog.Error("failed to record chat message", "agent", m.AgentID, "error", err)
	}
}
