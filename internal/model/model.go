// Package model defines the core data types shared by the orchestrator,
// store and dashboard: agents, their conversation turns, log entries and
// the durable chat audit trail.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Agent status values.
const (
	StatusIdle    = "idle"
	StatusBusy    = "busy"
	StatusStopped = "stopped"
)

// Turn roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Chat directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ShortIDLen is the length of the human-facing id prefix.
const ShortIDLen = 8

// Turn is one entry in an agent's conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Agent is a long-lived, goal-bound background task.
type Agent struct {
	ID          string           `json:"agent_id"`
	Title       string           `json:"title"`
	Goal        string           `json:"goal"`
	Status      string           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	LastActive  time.Time        `json:"last_active"`
	CurrentTask string           `json:"current_task"`
	History     []Turn           `json:"conversation_history"`
	Metrics     map[string]int64 `json:"metrics"`
}

// NewID mints a 12-char lowercase hex agent-scoped identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewAgent builds a fresh idle agent. The title defaults to a trimmed
// slice of the goal when empty.
func NewAgent(goal, title string) *Agent {
	goal = strings.TrimSpace(goal)
	title = strings.TrimSpace(title)
	if title == "" {
		title = goal
		if len(title) > 40 {
			title = strings.TrimSpace(title[:40])
		}
	}
	now := time.Now().UTC()
	return &Agent{
		ID:         NewID(),
		Title:      title,
		Goal:       goal,
		Status:     StatusIdle,
		CreatedAt:  now,
		LastActive: now,
		History:    []Turn{},
		Metrics:    map[string]int64{},
	}
}

// ShortID returns the human-facing prefix of the agent id.
func (a *Agent) ShortID() string {
	if len(a.ID) < ShortIDLen {
		return a.ID
	}
	return a.ID[:ShortIDLen]
}

// Live reports whether the agent participates in routing.
func (a *Agent) Live() bool {
	return a.Status != StatusStopped
}

// Uptime renders the agent's age as "Xh Ym", or "Xd Yh" past one day.
func (a *Agent) Uptime() string {
	return formatUptime(time.Since(a.CreatedAt))
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d >= 24*time.Hour {
		days := int(d.Hours()) / 24
		hours := int(d.Hours()) % 24
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// AppendTurn appends a turn to the conversation history.
func (a *Agent) AppendTurn(role, text string) {
	a.History = append(a.History, Turn{Role: role, Text: text, Timestamp: time.Now().UTC()})
}

// Bump increments a metrics counter, allocating the map if needed.
func (a *Agent) Bump(key string, delta int64) {
	if a.Metrics == nil {
		a.Metrics = map[string]int64{}
	}
	a.Metrics[key] += delta
}

// Clone returns a deep copy. The registry hands out and mutates clones
// so that a failed persist never leaks into the committed state.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.History = make([]Turn, len(a.History))
	copy(cp.History, a.History)
	cp.Metrics = make(map[string]int64, len(a.Metrics))
	for k, v := range a.Metrics {
		cp.Metrics[k] = v
	}
	return &cp
}

// LogEntry is one append-only observability record for an agent.
type LogEntry struct {
	LogID     string    `json:"log_id"`
	AgentID   string    `json:"agent_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  string    `json:"metadata,omitempty"`
}

// NewLogEntry builds a log record for an agent at the given level.
func NewLogEntry(agentID, level, message string) *LogEntry {
	return &LogEntry{
		LogID:     NewID(),
		AgentID:   agentID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// ChatMessage is one row of the durable chat audit trail. It is distinct
// from the conversation history: history feeds prompt construction, chat
// rows are the external record.
type ChatMessage struct {
	MessageID     string    `json:"message_id"`
	AgentID       string    `json:"agent_id"`
	Direction     string    `json:"direction"`
	Sender        string    `json:"sender"`
	TitleSnapshot string    `json:"title_snapshot"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewChatMessage builds a chat audit row stamped with the current time.
func NewChatMessage(agentID, direction, sender, titleSnapshot, text string) *ChatMessage {
	return &ChatMessage{
		MessageID:     NewID(),
		AgentID:       agentID,
		Direction:     direction,
		Sender:        sender,
		TitleSnapshot: titleSnapshot,
		Text:          text,
		Timestamp:     time.Now().UTC(),
	}
}
