package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/droverhq/drover/internal/bus"
	"github.com/droverhq/drover/internal/model"
	"github.com/droverhq/drover/internal/orcerr"
	"github.com/droverhq/drover/internal/orchestrator"
	"github.com/droverhq/drover/internal/reasoner"
	"github.com/droverhq/drover/internal/store"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator, *bus.Bus) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "drover.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	orch := orchestrator.New(orchestrator.Options{Store: st, Reasoner: &reasoner.Echo{Reply: "ok"}})
	if err := orch.Registry().Load(context.Background()); err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	b := bus.New()
	return New(orch, st, b), orch, b
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestIndexServesEmbeddedPage(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, _ := doJSON(t, s.Handler(), http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<html") {
		t.Errorf("index must serve the embedded page")
	}
}

func TestHealthz(t *testing.T) {
	s, orch, _ := newTestServer(t)
	orch.Create(context.Background(), "health check subject", "")
	w, out := doJSON(t, s.Handler(), http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if out["status"] != "ok" || out["agents"] != float64(1) {
		t.Errorf("unexpected health payload: %v", out)
	}
}

func TestCreateAgentEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, out := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/agents",
		`{"goal":"watch the build queue for failures","title":"Build Watch"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if out["title"] != "Build Watch" || out["status"] != model.StatusIdle {
		t.Errorf("unexpected create payload: %v", out)
	}
	if len(out["agent_id"].(string)) != 12 {
		t.Errorf("agent_id must be the full id: %v", out["agent_id"])
	}
}

func TestCreateAgentValidation(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, out := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/agents", `{"goal":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty goal must 400, got %d", w.Code)
	}
	if out["error"] == "" {
		t.Errorf("error envelope missing: %v", out)
	}
}

func TestListAndDetail(t *testing.T) {
	s, orch, _ := newTestServer(t)
	a, _ := orch.Create(context.Background(), "detail endpoint subject", "")

	w, _ := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/agents", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list must 200, got %d", w.Code)
	}
	var list []map[string]any
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 || list[0]["agent_id"] != a.ID {
		t.Errorf("unexpected listing: %v", list)
	}

	w, out := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/agents/"+a.ShortID(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("detail by short id must 200, got %d", w.Code)
	}
	if out["agent_id"] != a.ID {
		t.Errorf("detail returned the wrong agent: %v", out)
	}
	if _, ok := out["history"]; !ok {
		t.Errorf("detail must include the history tail")
	}
}

func TestDetailNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, out := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/agents/ffffffff", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown ref must 404, got %d", w.Code)
	}
	if !strings.Contains(out["error"].(string), "No agent matches") {
		t.Errorf("unexpected error wording: %v", out["error"])
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&orcerr.ValidationError{Msg: "bad"}, http.StatusBadRequest},
		{&orcerr.NotFoundError{Ref: "deadbeef"}, http.StatusNotFound},
		{&orcerr.AmbiguousError{Ref: "dead", Candidates: []string{"a", "b"}}, http.StatusConflict},
		{&orcerr.AgentStoppedError{ID: "x", Title: "T"}, http.StatusConflict},
		{&orcerr.ExternalProcessError{Op: "run", Err: errors.New("exit 1")}, http.StatusBadGateway},
		{&orcerr.PersistenceError{Op: "update", Err: errors.New("disk")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		writeError(w, tc.err)
		if w.Code != tc.want {
			t.Errorf("%T: expected %d, got %d", tc.err, tc.want, w.Code)
		}
		var out map[string]string
		json.Unmarshal(w.Body.Bytes(), &out)
		if out["error"] == "" {
			t.Errorf("%T: error envelope missing", tc.err)
		}
	}
}

func TestStopAndDeleteEndpoints(t *testing.T) {
	s, orch, _ := newTestServer(t)
	a, _ := orch.Create(context.Background(), "lifecycle endpoint subject", "")

	w, out := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/agents/"+a.ShortID()+"/stop", "")
	if w.Code != http.StatusOK || out["status"] != model.StatusStopped {
		t.Fatalf("stop failed: %d %v", w.Code, out)
	}

	w, out = doJSON(t, s.Handler(), http.MethodDelete, "/api/v1/agents/"+a.ShortID(), "")
	if w.Code != http.StatusOK || out["deleted"] != a.ID {
		t.Fatalf("delete failed: %d %v", w.Code, out)
	}
	if orch.Registry().Len() != 0 {
		t.Errorf("agent must be gone after delete")
	}
}

func TestSendQueuesThroughBus(t *testing.T) {
	s, orch, b := newTestServer(t)
	a, _ := orch.Create(context.Background(), "send endpoint subject", "")

	w, out := doJSON(t, s.Handler(), http.MethodPost,
		"/api/v1/agents/"+a.ShortID()+"/send", `{"text":"status please"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("send must 202, got %d: %s", w.Code, w.Body.String())
	}
	if out["queued"] != a.ID {
		t.Errorf("unexpected send payload: %v", out)
	}
	msg, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if msg.AgentID != a.ID || msg.Text != "status please" || msg.Channel != "api" {
		t.Errorf("send must publish a pre-resolved inbound message: %+v", msg)
	}
}

func TestSendToStoppedAgentConflicts(t *testing.T) {
	s, orch, _ := newTestServer(t)
	ctx := context.Background()
	a, _ := orch.Create(ctx, "stopped send subject", "")
	orch.Stop(ctx, a.ID)

	w, _ := doJSON(t, s.Handler(), http.MethodPost,
		"/api/v1/agents/"+a.ShortID()+"/send", `{"text":"hello?"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("send to a stopped agent must 409, got %d", w.Code)
	}
}

func TestSendEmptyTextRejected(t *testing.T) {
	s, orch, _ := newTestServer(t)
	a, _ := orch.Create(context.Background(), "empty send subject", "")
	w, _ := doJSON(t, s.Handler(), http.MethodPost,
		"/api/v1/agents/"+a.ShortID()+"/send", `{"text":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty text must 400, got %d", w.Code)
	}
}

func TestResetEndpoint(t *testing.T) {
	s, orch, _ := newTestServer(t)
	ctx := context.Background()
	orch.Create(ctx, "reset endpoint subject one", "")
	orch.Create(ctx, "reset endpoint subject two", "")

	w, out := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/reset", "")
	if w.Code != http.StatusOK || out["stopped"] != float64(2) {
		t.Fatalf("reset failed: %d %v", w.Code, out)
	}
}

func TestRouteDryRun(t *testing.T) {
	s, orch, _ := newTestServer(t)
	a, _ := orch.Create(context.Background(), "track currency exchange rates", "Rates")

	w, out := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/route?text="+a.ID[:10], "")
	if w.Code != http.StatusOK {
		t.Fatalf("dry run must 200, got %d", w.Code)
	}
	if out["rule"] != "id_prefix" || out["agent_id"] != a.ID {
		t.Errorf("unexpected dry-run decision: %v", out)
	}
	if orch.Registry().Len() != 1 {
		t.Errorf("dry run must have no side effects")
	}

	w, _ = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/route", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing text must 400, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t)
	w, _ := doJSON(t, s.Handler(), http.MethodOptions, "/api/v1/agents", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight must 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("CORS headers missing")
	}
}
