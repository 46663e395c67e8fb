package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/droverhq/drover/internal/model"
)

// Reaper stops agents that have been inactive past the idle timeout.
// Disabled when the timeout is zero.
type Reaper struct {
	orch        *Orchestrator
	idleTimeout time.Duration
	interval    time.Duration
}

// NewReaper creates an idle reaper sweeping once per minute.
func NewReaper(orch *Orchestrator, idleTimeout time.Duration) *Reaper {
	return &Reaper{
		orch:        orch,
		idleTimeout: idleTimeout,
		interval:    time.Minute,
	}
}

// Run sweeps until the context is cancelled. Run as a goroutine.
func (r *Reaper) Run(ctx context.Context) error {
	if r.idleTimeout <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.idleTimeout)
	for _, a := range r.orch.Registry().List() {
		// Busy agents have a turn in flight; their LastActive moves
		// when it finishes.
		if a.Status != model.StatusIdle || a.LastActive.After(cutoff) {
			continue
		}
		if _, err := r.orch.Stop(ctx, a.ID); err != nil {
			slog.Error("reaper: failed to stop idle agent", "agent", a.ID, "error", err)
			continue
		}
		slog.Warn("reaper: stopped idle agent", "agent", a.ID, "title", a.Title, "idle_since", a.LastActive)
	}
}
