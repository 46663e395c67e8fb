// Package dashboard exposes the REST surface consumed by the web page.
// Every handler is a pass-through to a core operation; no decision
// logic lives here.
package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/bus"
	"github.com/droverhq/drover/internal/model"
	"github.com/droverhq/drover/internal/orcerr"
	"github.com/droverhq/drover/internal/orchestrator"
	"github.com/droverhq/drover/internal/store"
	webassets "github.com/droverhq/drover/web"
)

const historyTail = 20

// Server serves the dashboard REST API and the embedded page.
type Server struct {
	orch    *orchestrator.Orchestrator
	store   *store.Store
	bus     *bus.Bus
	started time.Time
}

// New creates a dashboard server.
func New(orch *orchestrator.Orchestrator, st *store.Store, b *bus.Bus) *Server {
	return &Server{orch: orch, store: st, bus: b, started: time.Now()}
}

// Handler builds the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agents/", s.handleAgent)
	mux.HandleFunc("/api/v1/reset", s.handleReset)
	mux.HandleFunc("/api/v1/route", s.handleRoute)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page, err := webassets.Files.ReadFile("index.html")
	if err != nil {
		http.Error(w, "dashboard page missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": s.orch.Registry().Len(),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		agents := s.orch.Registry().List()
		out := make([]map[string]any, 0, len(agents))
		for _, a := range agents {
			out = append(out, agentSummary(a))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req struct {
			Goal  string `json:"goal"`
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &orcerr.ValidationError{Msg: "invalid JSON body"})
			return
		}
		a, err := s.orch.Create(r.Context(), req.Goal, req.Title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, agentSummary(a))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAgent dispatches /api/v1/agents/{ref}[/action].
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	ref, action, _ := strings.Cut(rest, "/")
	if ref == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.agentDetail(w, r, ref)
	case action == "" && r.Method == http.MethodDelete,
		action == "delete" && r.Method == http.MethodPost:
		a, err := s.orch.Delete(r.Context(), ref)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": a.ID})
	case action == "stop" && r.Method == http.MethodPost:
		a, err := s.orch.Stop(r.Context(), ref)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agentSummary(a))
	case action == "send" && r.Method == http.MethodPost:
		s.agentSend(w, r, ref)
	case action == "chat" && r.Method == http.MethodGet:
		s.agentChat(w, r, ref)
	case action == "logs" && r.Method == http.MethodGet:
		s.agentLogs(w, r, ref)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) agentDetail(w http.ResponseWriter, r *http.Request, ref string) {
	a, err := s.orch.Resolve(ref)
	if err != nil {
		writeError(w, err)
		return
	}
	out := agentSummary(a)
	history := a.History
	if len(history) > historyTail {
		history = history[len(history)-historyTail:]
	}
	out["history"] = history
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) agentSend(w http.ResponseWriter, r *http.Request, ref string) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, &orcerr.ValidationError{Msg: "text must not be empty"})
		return
	}
	a, err := s.orch.Resolve(ref)
	if err != nil {
		writeError(w, err)
		return
	}
	if a.Status == model.StatusStopped {
		writeError(w, &orcerr.AgentStoppedError{ID: a.ID, Title: a.Title})
		return
	}
	// Queued through the dispatcher so dashboard sends serialize with
	// routed chat traffic.
	ok := s.bus.PublishInbound(&bus.Inbound{
		Channel: "api",
		ChatID:  a.ID,
		Sender:  "dashboard",
		AgentID: a.ID,
		Text:    req.Text,
	})
	if !ok {
		http.Error(w, "inbound queue full", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": a.ID})
}

func (s *Server) agentChat(w http.ResponseWriter, r *http.Request, ref string) {
	a, err := s.orch.Resolve(ref)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.store.ListChat(r.Context(), a.ID, queryLimit(r, 50))
	if err != nil {
		writeError(w, &orcerr.PersistenceError{Op: "list chat", Err: err})
		return
	}
	if msgs == nil {
		msgs = []*model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) agentLogs(w http.ResponseWriter, r *http.Request, ref string) {
	a, err := s.orch.Resolve(ref)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := s.store.ListLogs(r.Context(), a.ID, queryLimit(r, 100))
	if err != nil {
		writeError(w, &orcerr.PersistenceError{Op: "list logs", Err: err})
		return
	}
	if logs == nil {
		logs = []*model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := s.orch.ResetAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": n})
}

// handleRoute is a routing dry run: it reports which rule and agent
// would handle the text, with no side effects.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	text := r.URL.Query().Get("text")
	if strings.TrimSpace(text) == "" {
		writeError(w, &orcerr.ValidationError{Msg: "text query parameter required"})
		return
	}
	writeJSON(w, http.StatusOK, s.orch.DryRunRoute(text))
}

func agentSummary(a *model.Agent) map[string]any {
	return map[string]any{
		"agent_id":     a.ID,
		"short_id":     a.ShortID(),
		"title":        a.Title,
		"goal":         a.Goal,
		"status":       a.Status,
		"created_at":   a.CreatedAt,
		"last_active":  a.LastActive,
		"current_task": a.CurrentTask,
		"uptime":       a.Uptime(),
		"history_len":  len(a.History),
		"metrics":      a.Metrics,
	}
}

// cors sets the shared headers and answers preflight requests.
func cors(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var verr *orcerr.ValidationError
	var nferr *orcerr.NotFoundError
	var aerr *orcerr.AmbiguousError
	var serr *orcerr.AgentStoppedError
	var xerr *orcerr.ExternalProcessError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &nferr):
		status = http.StatusNotFound
	case errors.As(err, &aerr):
		status = http.StatusConflict
	case errors.As(err, &serr):
		status = http.StatusConflict
	case errors.As(err, &xerr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": orcerr.Render(err)})
}

func queryLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
