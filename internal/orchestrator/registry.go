// Package orchestrator implements the agent orchestrator core: the
// in-memory registry, lifecycle operations, the message-routing cascade
// and the turn pipeline that drives the external reasoner.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/droverhq/drover/internal/model"
	"github.com/droverhq/drover/internal/orcerr"
)

// Persistence is the durable store consumed by the orchestrator. Every
// agent mutation is written through before it is considered committed.
type Persistence interface {
	SaveAgent(ctx context.Context, a *model.Agent) error
	ListAgents(ctx context.Context) ([]*model.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
	AddLog(ctx context.Context, e *model.LogEntry) error
	AddChat(ctx context.Context, m *model.ChatMessage) error
}

// Registry is the authoritative in-memory view of all agents. It owns
// the in-memory copies exclusively; callers only ever see clones.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*model.Agent
	store  Persistence
}

// NewRegistry creates an empty registry backed by the given store.
func NewRegistry(store Persistence) *Registry {
	return &Registry{
		agents: map[string]*model.Agent{},
		store:  store,
	}
}

// Load reads all agents from the store. Any agent persisted as busy is
// rewritten idle: no turn survives a restart.
func (r *Registry) Load(ctx context.Context) error {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return &orcerr.PersistenceError{Op: "load", Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		if a.Status == model.StatusBusy {
			a.Status = model.StatusIdle
			a.CurrentTask = ""
			if err := r.store.SaveAgent(ctx, a); err != nil {
				slog.Error("registry: failed to reset busy agent on load", "agent", a.ID, "error", err)
			}
		}
		r.agents[a.ID] = a
	}
	return nil
}

// Insert adds a new agent, write-through. The agent's id is re-minted
// until both the full id and its short prefix are unique.
func (r *Registry) Insert(ctx context.Context, a *model.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.idTaken(a.ID) {
		a.ID = model.NewID()
	}
	if err := r.store.SaveAgent(ctx, a); err != nil {
		return &orcerr.PersistenceError{Op: "create", Err: err}
	}
	r.agents[a.ID] = a.Clone()
	return nil
}

func (r *Registry) idTaken(id string) bool {
	if _, ok := r.agents[id]; ok {
		return true
	}
	short := id[:model.ShortIDLen]
	for existing := range r.agents {
		if strings.HasPrefix(existing, short) {
			return true
		}
	}
	return false
}

// Get returns a clone of one agent.
func (r *Registry) Get(id string) (*model.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// List returns clones of all agents ordered by creation time.
func (r *Registry) List() []*model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Live returns clones of all non-stopped agents.
func (r *Registry) Live() []*model.Agent {
	all := r.List()
	out := all[:0]
	for _, a := range all {
		if a.Live() {
			out = append(out, a)
		}
	}
	return out
}

// Update applies mutate to a clone of the agent and writes it through.
// On store failure the in-memory copy is left at the last durably
// confirmed value and a PersistenceError is returned.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*model.Agent)) (*model.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.agents[id]
	if !ok {
		return nil, &orcerr.NotFoundError{Ref: id}
	}
	next := current.Clone()
	mutate(next)
	if err := r.store.SaveAgent(ctx, next); err != nil {
		return nil, &orcerr.PersistenceError{Op: "update", Err: err}
	}
	r.agents[id] = next
	return next.Clone(), nil
}

// Remove deletes the agent and its logs and chat rows, write-through.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return &orcerr.NotFoundError{Ref: id}
	}
	if err := r.store.DeleteAgent(ctx, id); err != nil {
		return &orcerr.PersistenceError{Op: "delete", Err: err}
	}
	delete(r.agents, id)
	return nil
}

// Len returns the number of tracked agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
