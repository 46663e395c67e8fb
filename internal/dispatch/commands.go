package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/droverhq/drover/internal/orcerr"
)

const helpText = `Commands:
/status          - active agents with status, uptime and current task
/agents          - list all agents, stopped included
/new <goal>      - create an agent with an explicit goal
/stop <ref>      - stop an agent by id or id prefix
/delete <ref>    - delete an agent and its history
/reset confirm   - stop every running agent
/help            - this list
Anything else is routed to the best-matching agent.`

// handleCommand answers the slash-command surface without touching the
// router.
func (d *Dispatcher) handleCommand(ctx context.Context, text string) string {
	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/status":
		return d.statusText()
	case "/agents":
		return d.agentsText()
	case "/new":
		if rest == "" {
			return "Usage: /new <goal>"
		}
		a, err := d.orch.Create(ctx, rest, "")
		if err != nil {
			return orcerr.Render(err)
		}
		return fmt.Sprintf("Created agent %s: %s", a.ShortID(), a.Title)
	case "/stop":
		if rest == "" {
			return "Usage: /stop <ref>"
		}
		a, err := d.orch.Stop(ctx, rest)
		if err != nil {
			return orcerr.Render(err)
		}
		return fmt.Sprintf("Stopped agent %s: %s", a.ShortID(), a.Title)
	case "/delete":
		if rest == "" {
			return "Usage: /delete <ref>"
		}
		a, err := d.orch.Delete(ctx, rest)
		if err != nil {
			return orcerr.Render(err)
		}
		d.dropQueue(a.ID)
		return fmt.Sprintf("Deleted agent %s: %s", a.ShortID(), a.Title)
	case "/reset":
		if rest != "confirm" {
			return "This stops every running agent. Send /reset confirm to proceed."
		}
		n, err := d.orch.ResetAll(ctx)
		if err != nil {
			return orcerr.Render(err)
		}
		return fmt.Sprintf("Stopped %d agent(s).", n)
	case "/help":
		return helpText
	default:
		return fmt.Sprintf("Unknown command %s. Try /help.", cmd)
	}
}

func (d *Dispatcher) statusText() string {
	var active []string
	for _, a := range d.orch.Registry().List() {
		if !a.Live() {
			continue
		}
		task := a.CurrentTask
		if task == "" {
			task = "(idle)"
		}
		active = append(active, fmt.Sprintf("  [%s] %s\n    Status: %s | Uptime: %s\n    Task: %s",
			a.ShortID(), a.Title, a.Status, a.Uptime(), task))
	}
	if len(active) == 0 {
		return "No active agents."
	}
	return fmt.Sprintf("Active agents: %d\n\n%s", len(active), strings.Join(active, "\n"))
}

func (d *Dispatcher) agentsText() string {
	agents := d.orch.Registry().List()
	if len(agents) == 0 {
		return "No agents."
	}
	var b strings.Builder
	b.WriteString("ID        Status    Title")
	for _, a := range agents {
		b.WriteString(fmt.Sprintf("\n  %s  %-8s  %s", a.ShortID(), a.Status, a.Title))
	}
	return b.String()
}
