// Package store persists agents, logs and chat history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/droverhq/drover/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	goal TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	created_at TEXT NOT NULL,
	last_active TEXT NOT NULL,
	current_task TEXT NOT NULL DEFAULT '',
	metrics TEXT NOT NULL DEFAULT '{}',
	conversation_history TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS logs (
	log_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	level TEXT NOT NULL DEFAULT 'info',
	message TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_logs_agent_time ON logs(agent_id, timestamp DESC);
CREATE TABLE IF NOT EXISTS chat (
	message_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	sender TEXT NOT NULL DEFAULT '',
	title_snapshot TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_agent_time ON chat(agent_id, timestamp DESC);
`

// Store owns the SQLite handle for the orchestrator's durable state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveAgent upserts the full agent row. History and metrics are stored
// as JSON columns.
func (s *Store) SaveAgent(ctx context.Context, a *model.Agent) error {
	history, err := json.Marshal(a.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	metrics, err := json.Marshal(a.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, title, goal, status, created_at, last_active, current_task, metrics, conversation_history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			title = excluded.title,
			goal = excluded.goal,
			status = excluded.status,
			last_active = excluded.last_active,
			current_task = excluded.current_task,
			metrics = excluded.metrics,
			conversation_history = excluded.conversation_history`,
		a.ID, a.Title, a.Goal, a.Status,
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
		a.LastActive.UTC().Format(time.RFC3339Nano),
		a.CurrentTask, string(metrics), string(history),
	)
	if err != nil {
		return fmt.Errorf("failed to save agent %s: %w", a.ID, err)
	}
	return nil
}

// GetAgent returns one agent, or nil when the id is unknown.
func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, title, goal, status, created_at, last_active, current_task, metrics, conversation_history
		FROM agents WHERE agent_id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAgents returns all agents ordered by creation time.
func (s *Store) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, title, goal, status, created_at, last_active, current_task, metrics, conversation_history
		FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// DeleteAgent removes the agent row plus its logs and chat in one
// transaction.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM logs WHERE agent_id = ?`,
		`DELETE FROM chat WHERE agent_id = ?`,
		`DELETE FROM agents WHERE agent_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete agent %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// AddLog appends a log entry.
func (s *Store) AddLog(ctx context.Context, e *model.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (log_id, agent_id, level, message, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.LogID, e.AgentID, e.Level, e.Message,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to add log: %w", err)
	}
	return nil
}

// ListLogs returns up to limit log entries for an agent, newest first.
func (s *Store) ListLogs(ctx context.Context, agentID string, limit int) ([]*model.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, agent_id, level, message, timestamp, metadata
		FROM logs WHERE agent_id = ? ORDER BY timestamp DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var entries []*model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var ts string
		if err := rows.Scan(&e.LogID, &e.AgentID, &e.Level, &e.Message, &ts, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// AddChat appends a chat audit row.
func (s *Store) AddChat(ctx context.Context, m *model.ChatMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat (message_id, agent_id, direction, sender, title_snapshot, text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.AgentID, m.Direction, m.Sender, m.TitleSnapshot, m.Text,
		m.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to add chat message: %w", err)
	}
	return nil
}

// ListChat returns up to limit chat rows for an agent, newest first.
func (s *Store) ListChat(ctx context.Context, agentID string, limit int) ([]*model.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, agent_id, direction, sender, title_snapshot, text, timestamp
		FROM chat WHERE agent_id = ? ORDER BY timestamp DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat: %w", err)
	}
	defer rows.Close()

	var msgs []*model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var ts string
		if err := rows.Scan(&m.MessageID, &m.AgentID, &m.Direction, &m.Sender, &m.TitleSnapshot, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*model.Agent, error) {
	var a model.Agent
	var created, active, metrics, history string
	if err := row.Scan(&a.ID, &a.Title, &a.Goal, &a.Status, &created, &active, &a.CurrentTask, &metrics, &history); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	a.LastActive, _ = time.Parse(time.RFC3339Nano, active)
	if err := json.Unmarshal([]byte(metrics), &a.Metrics); err != nil {
		a.Metrics = map[string]int64{}
	}
	if err := json.Unmarshal([]byte(history), &a.History); err != nil {
		a.History = []model.Turn{}
	}
	return &a, nil
}
