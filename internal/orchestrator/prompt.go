package orchestrator

import (
	"strings"

	"github.com/droverhq/drover/internal/model"
)

// BuildPrompt renders the prompt for one turn: a goal header, the most
// recent window of the conversation, and a trailing cue for the reply.
// The rendered prompt never exceeds budget bytes; oldest turns drop
// first, and the header plus the newest turn always survive. The same
// history always renders the same prompt.
func BuildPrompt(goal string, history []model.Turn, window, budget int) string {
	if window <= 0 {
		window = 20
	}
	if budget <= 0 {
		budget = 24576
	}
	header := "You are a background agent. Goal: " + goal + "\n\n"

	if len(history) > window {
		history = history[len(history)-window:]
	}
	lines := make([]string, len(history))
	for i, t := range history {
		lines[i] = renderTurn(t)
	}

	const cue = "Agent:"
	// Drop oldest lines until the whole prompt fits the budget. The
	// newest line is kept even when it alone blows the budget.
	for len(lines) > 1 {
		size := len(header) + len(cue)
		for _, l := range lines {
			size += len(l)
		}
		if size <= budget {
			break
		}
		lines = lines[1:]
	}

	var b strings.Builder
	b.WriteString(header)
	for _, l := range lines {
		b.WriteString(l)
	}
	b.WriteString(cue)
	return b.String()
}

func renderTurn(t model.Turn) string {
	label := "User"
	if t.Role == model.RoleAgent {
		label = "Agent"
	}
	return label + ": " + t.Text + "\n"
}
