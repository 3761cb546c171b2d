package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GoCodeAlone/boardroom/agent"
	"github.com/GoCodeAlone/boardroom/comms"
	"github.com/GoCodeAlone/boardroom/heartbeat"
	"github.com/GoCodeAlone/boardroom/sentinel"
	"github.com/GoCodeAlone/boardroom/server/api"
	"github.com/GoCodeAlone/boardroom/task"
	"github.com/GoCodeAlone/boardroom/worker"
)

type fakeWorkers struct{ statuses []worker.Status }

func (f fakeWorkers) Statuses() []worker.Status { return f.statuses }

type fakeHeartbeat struct{ status heartbeat.Status }

func (f fakeHeartbeat) Status() heartbeat.Status { return f.status }

type env struct {
	h     *api.Handlers
	mux   *http.ServeMux
	store *task.MemStore
	board *comms.MemoryBoard
}

func newHandlers(t *testing.T) *env {
	t.Helper()
	reg, err := agent.NewRegistry([]agent.Descriptor{
		{ID: "ceo", Role: "chief", DisplayName: "Chief", Active: true, AllowedTools: []string{"*"}},
		{ID: "cto", Role: "technology", ReportsTo: "ceo", Active: true},
		{ID: "dev", Role: "engineer", ReportsTo: "cto", Active: false},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	e := &env{
		store: task.NewMemStore(),
		board: comms.NewMemoryBoard("test", 0),
		mux:   http.NewServeMux(),
	}
	e.h = &api.Handlers{
		Agents:  reg,
		Tasks:   e.store,
		Board:   e.board,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Version: "test",
		StartAt: time.Now(),
		Subject: func(*http.Request) string { return "alice" },
	}
	e.h.RegisterRoutes(e.mux)
	return e
}

func (e *env) do(t *testing.T, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		if err := json.NewDecoder(rr.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rr
}

func TestListAgents(t *testing.T) {
	e := newHandlers(t)
	var infos []api.AgentInfo
	rr := e.do(t, http.MethodGet, "/api/agents", "", &infos)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(infos))
	}

	infos = nil
	e.do(t, http.MethodGet, "/api/agents?active=true", "", &infos)
	if len(infos) != 2 {
		t.Errorf("expected 2 active agents, got %d", len(infos))
	}

	infos = nil
	e.do(t, http.MethodGet, "/api/agents?role=TECHNOLOGY", "", &infos)
	if len(infos) != 1 || infos[0].ID != "cto" {
		t.Errorf("expected cto by role, got %+v", infos)
	}
}

func TestGetAgent(t *testing.T) {
	e := newHandlers(t)
	var info api.AgentInfo
	rr := e.do(t, http.MethodGet, "/api/agents/cto", "", &info)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(info.Chain) == 0 || info.Chain[len(info.Chain)-1] != "ceo" {
		t.Errorf("expected chain ending at ceo, got %v", info.Chain)
	}
	if len(info.DirectReports) != 1 || info.DirectReports[0] != "dev" {
		t.Errorf("expected dev as direct report, got %v", info.DirectReports)
	}

	t.Run("by role", func(t *testing.T) {
		var byRole api.AgentInfo
		e.do(t, http.MethodGet, "/api/agents/chief", "", &byRole)
		if byRole.ID != "ceo" {
			t.Errorf("expected role lookup to resolve ceo, got %q", byRole.ID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rr := e.do(t, http.MethodGet, "/api/agents/nobody", "", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestCreateAndListTasks(t *testing.T) {
	e := newHandlers(t)

	var created task.Task
	rr := e.do(t, http.MethodPost, "/api/tasks", `{"title":"ship it","priority":"high","assigned_to":"technology"}`, &created)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if created.ID == "" || created.Status != task.StatusQueued {
		t.Errorf("unexpected created task: %+v", created)
	}
	if created.AssignedTo != "cto" {
		t.Errorf("expected role resolved to cto, got %q", created.AssignedTo)
	}
	if created.CreatedBy != "alice" || created.Priority != task.PriorityHigh {
		t.Errorf("unexpected creator/priority: %q %v", created.CreatedBy, created.Priority)
	}

	e.do(t, http.MethodPost, "/api/tasks", `{"title":"for a person","assigned_to":"human"}`, nil)
	e.do(t, http.MethodPost, "/api/tasks", `{"title":"for ceo","assigned_to":"ceo"}`, nil)

	var all []*task.Task
	e.do(t, http.MethodGet, "/api/tasks", "", &all)
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].ID != created.ID {
		t.Errorf("expected high priority task first, got %q", all[0].Title)
	}

	var some []*task.Task
	e.do(t, http.MethodGet, "/api/tasks?assigned_to=cto,human&status=queued", "", &some)
	if len(some) != 2 {
		t.Errorf("expected 2 tasks for cto,human, got %d", len(some))
	}

	var page []*task.Task
	e.do(t, http.MethodGet, "/api/tasks?limit=1&offset=1", "", &page)
	if len(page) != 1 {
		t.Errorf("expected a page of 1, got %d", len(page))
	}
}

func TestCreateTask_Invalid(t *testing.T) {
	e := newHandlers(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing title", `{"assigned_to":"ceo"}`},
		{"unknown assignee", `{"title":"x","assigned_to":"ghost"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, http.MethodPost, "/api/tasks", tt.body, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestGetTask_NotFound(t *testing.T) {
	e := newHandlers(t)
	rr := e.do(t, http.MethodGet, "/api/tasks/missing", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr = e.do(t, http.MethodPost, "/api/tasks/missing/reset", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("reset: expected 404, got %d", rr.Code)
	}
}

func TestResetTask(t *testing.T) {
	e := newHandlers(t)
	ctx := context.Background()
	id, err := e.store.Create(ctx, &task.Task{Title: "retry me", AssignedTo: "cto"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := e.store.Claim(ctx, id, "w1"); !ok || err != nil {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if ok, err := e.store.Complete(ctx, id, "w1", task.StatusFailed, "boom"); !ok || err != nil {
		t.Fatalf("complete: %v %v", ok, err)
	}

	var got task.Task
	rr := e.do(t, http.MethodPost, "/api/tasks/"+id+"/reset", "", &got)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Status != task.StatusQueued || got.Result != "" {
		t.Errorf("expected queued with empty result, got %s %q", got.Status, got.Result)
	}
}

func TestSweepTasks(t *testing.T) {
	e := newHandlers(t)
	ctx := context.Background()
	id, _ := e.store.Create(ctx, &task.Task{Title: "stuck", AssignedTo: "cto"})
	if ok, err := e.store.Claim(ctx, id, "w1"); !ok || err != nil {
		t.Fatalf("claim: %v %v", ok, err)
	}

	rr := e.do(t, http.MethodPost, "/api/tasks/sweep?stale_after=bogus", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad duration, got %d", rr.Code)
	}

	var resp struct {
		Requeued []string `json:"requeued"`
	}
	e.do(t, http.MethodPost, "/api/tasks/sweep", "", &resp)
	if len(resp.Requeued) != 0 {
		t.Errorf("fresh claim should survive default window, got %v", resp.Requeued)
	}

	time.Sleep(5 * time.Millisecond)
	e.do(t, http.MethodPost, "/api/tasks/sweep?stale_after=1ms", "", &resp)
	if len(resp.Requeued) != 1 || resp.Requeued[0] != id {
		t.Fatalf("expected %s requeued, got %v", id, resp.Requeued)
	}
	got, _ := e.store.Get(ctx, id)
	if got.Status != task.StatusQueued {
		t.Errorf("expected queued after sweep, got %s", got.Status)
	}
}

func TestMessages(t *testing.T) {
	e := newHandlers(t)

	var posted comms.Message
	rr := e.do(t, http.MethodPost, "/api/messages", `{"content":"@cto status?"}`, &posted)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if posted.From != "alice" || posted.Kind != comms.KindHuman || posted.Seq == 0 {
		t.Errorf("unexpected posted message: %+v", posted)
	}
	e.do(t, http.MethodPost, "/api/messages", `{"content":"second"}`, nil)

	rr = e.do(t, http.MethodPost, "/api/messages", `{"content":"   "}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank content, got %d", rr.Code)
	}

	var recent []*comms.Message
	e.do(t, http.MethodGet, "/api/messages", "", &recent)
	if len(recent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(recent))
	}

	var since []*comms.Message
	e.do(t, http.MethodGet, "/api/messages?since=1", "", &since)
	if len(since) != 1 || since[0].Content != "second" {
		t.Errorf("expected only the second message, got %+v", since)
	}

	rr = e.do(t, http.MethodGet, "/api/messages?since=-1", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad cursor, got %d", rr.Code)
	}
}

func TestTerminations(t *testing.T) {
	e := newHandlers(t)
	ctx := context.Background()
	finish := func(title, result string) string {
		id, _ := e.store.Create(ctx, &task.Task{Title: title, AssignedTo: "cto"})
		if ok, err := e.store.Claim(ctx, id, "w1"); !ok || err != nil {
			t.Fatalf("claim: %v %v", ok, err)
		}
		if ok, err := e.store.Complete(ctx, id, "w1", task.StatusFailed, result); !ok || err != nil {
			t.Fatalf("complete: %v %v", ok, err)
		}
		return id
	}
	killed := finish("looping", sentinel.TerminationPrefix+"tool read_file called 5 times")
	finish("plain failure", "model unavailable")

	var out []api.Termination
	e.do(t, http.MethodGet, "/api/sentinel/terminations", "", &out)
	if len(out) != 1 {
		t.Fatalf("expected 1 termination, got %+v", out)
	}
	if out[0].TaskID != killed || out[0].Reason != "tool read_file called 5 times" {
		t.Errorf("unexpected termination: %+v", out[0])
	}
}

func TestIntrospection(t *testing.T) {
	e := newHandlers(t)

	var ws []worker.Status
	e.do(t, http.MethodGet, "/api/workers", "", &ws)
	if len(ws) != 0 {
		t.Errorf("expected no workers without a source, got %d", len(ws))
	}
	e.h.Workers = fakeWorkers{statuses: []worker.Status{{WorkerID: "w-1", Processed: 2}}}
	e.do(t, http.MethodGet, "/api/workers", "", &ws)
	if len(ws) != 1 || ws[0].Processed != 2 {
		t.Errorf("unexpected workers: %+v", ws)
	}

	e.h.Heartbeat = fakeHeartbeat{status: heartbeat.Status{Running: true, Ticks: 7, Cursor: 3}}
	var hb heartbeat.Status
	e.do(t, http.MethodGet, "/api/heartbeat", "", &hb)
	if !hb.Running || hb.Ticks != 7 || hb.Cursor != 3 {
		t.Errorf("unexpected heartbeat: %+v", hb)
	}
}

func TestStatusEndpoint(t *testing.T) {
	e := newHandlers(t)
	if _, err := e.store.Create(context.Background(), &task.Task{Title: "a", AssignedTo: "ceo"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	var resp struct {
		Status       string         `json:"status"`
		Version      string         `json:"version"`
		Tasks        map[string]int `json:"tasks"`
		Agents       int            `json:"agents"`
		ActiveAgents int            `json:"active_agents"`
	}
	rr := e.do(t, http.MethodGet, "/api/status", "", &resp)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("unexpected status: %+v", resp)
	}
	if resp.Tasks["queued"] != 1 || resp.Agents != 3 || resp.ActiveAgents != 2 {
		t.Errorf("unexpected counts: %+v", resp)
	}

	var v map[string]string
	e.do(t, http.MethodGet, "/api/version", "", &v)
	if v["version"] != "test" {
		t.Errorf("unexpected version: %v", v)
	}
}
