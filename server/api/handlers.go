package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/boardroom/agent"
	"github.com/GoCodeAlone/boardroom/comms"
	"github.com/GoCodeAlone/boardroom/heartbeat"
	"github.com/GoCodeAlone/boardroom/sentinel"
	"github.com/GoCodeAlone/boardroom/task"
	"github.com/GoCodeAlone/boardroom/worker"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Agents    *agent.Registry
	Tasks     task.Store
	Board     comms.Board
	Heartbeat HeartbeatSource // optional
	Workers   WorkerSource    // optional
	Logger    *slog.Logger
	Version   string
	StartAt   time.Time
	// StaleAfter is the default window for POST /api/tasks/sweep.
	StaleAfter time.Duration
	// Subject extracts the authenticated user from a request.
	Subject func(*http.Request) string
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", h.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", h.getAgent)

	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("POST /api/tasks/sweep", h.sweepTasks)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("POST /api/tasks/{id}/reset", h.resetTask)

	mux.HandleFunc("GET /api/messages", h.listMessages)
	mux.HandleFunc("POST /api/messages", h.postMessage)

	mux.HandleFunc("GET /api/heartbeat", h.heartbeat)
	mux.HandleFunc("GET /api/workers", h.workers)
	mux.HandleFunc("GET /api/sentinel/terminations", h.terminations)

	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/version", h.version)
}

// subject returns the authenticated caller, or "" when no Subject hook is set.
func (h *Handlers) subject(r *http.Request) string {
	if h.Subject == nil {
		return ""
	}
	return h.Subject(r)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store errors onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, task.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// --- Agent handlers ---

func (h *Handlers) agentInfo(d agent.Descriptor) AgentInfo {
	info := AgentInfo{
		ID:           d.ID,
		Role:         d.Role,
		DisplayName:  d.Name(),
		Layer:        string(d.Layer),
		Active:       d.Active,
		AllowedTools: d.AllowedTools,
		ReportsTo:    d.ReportsTo,
	}
	if info.AllowedTools == nil {
		info.AllowedTools = []string{}
	}
	if chain, err := h.Agents.ChainOfCommand(d.ID); err == nil {
		for _, c := range chain {
			info.Chain = append(info.Chain, c.ID)
		}
	}
	for _, r := range h.Agents.DirectReports(d.ID) {
		info.DirectReports = append(info.DirectReports, r.ID)
	}
	return info
}

func (h *Handlers) listAgents(w http.ResponseWriter, r *http.Request) {
	descs := h.Agents.All()
	if role := r.URL.Query().Get("role"); role != "" {
		descs = h.Agents.ListByRole(role)
	}
	infos := make([]AgentInfo, 0, len(descs))
	for _, d := range descs {
		if r.URL.Query().Get("active") == "true" && !d.Active {
			continue
		}
		infos = append(infos, h.agentInfo(d))
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	d, ok := h.Agents.Resolve(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, h.agentInfo(d))
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{
		Limit:  intParam(r, "limit", 0),
		Offset: intParam(r, "offset", 0),
	}
	if s := q.Get("status"); s != "" {
		st := task.Normalize(task.Status(s))
		filter.Status = &st
	}
	if a := q.Get("assigned_to"); a != "" {
		filter.AssignedTo = strings.Split(a, ",")
	}

	tasks, err := h.Tasks.List(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// createTaskRequest is the body accepted by POST /api/tasks.
type createTaskRequest struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Priority    task.Priority `json:"priority"`
	AssignedTo  string        `json:"assigned_to"`
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	req := createTaskRequest{Priority: task.PriorityMedium}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.AssignedTo != "" && req.AssignedTo != task.Human {
		d, ok := h.Agents.Resolve(req.AssignedTo)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown assignee "+req.AssignedTo)
			return
		}
		req.AssignedTo = d.ID
	}

	t := &task.Task{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		AssignedTo:  req.AssignedTo,
		CreatedBy:   h.subject(r),
	}
	if _, err := h.Tasks.Create(r.Context(), t); err != nil {
		writeStoreError(w, err)
		return
	}
	h.Logger.Info("task created via api", "task", t.ID, "assigned_to", t.AssignedTo)
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) resetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Tasks.Reset(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	h.Logger.Info("task reset via api", "task", id, "by", h.subject(r))
	t, err := h.Tasks.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) sweepTasks(w http.ResponseWriter, r *http.Request) {
	staleAfter := h.StaleAfter
	if v := r.URL.Query().Get("stale_after"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid stale_after")
			return
		}
		staleAfter = d
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	ids, err := h.Tasks.SweepStuck(r.Context(), staleAfter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.Logger.Info("stuck task sweep via api", "requeued", len(ids), "stale_after", staleAfter)
	writeJSON(w, http.StatusOK, map[string]any{"requeued": ids, "stale_after": staleAfter.String()})
}

// --- Board handlers ---

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)
	var msgs []*comms.Message
	if since := r.URL.Query().Get("since"); since != "" {
		cursor, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since cursor")
			return
		}
		msgs = h.Board.Since(cursor, limit)
	} else {
		msgs = h.Board.Recent(limit)
	}
	if msgs == nil {
		msgs = []*comms.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// postMessageRequest is the body accepted by POST /api/messages.
type postMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	from := h.subject(r)
	if from == "" {
		from = task.Human
	}
	msg, err := h.Board.Post(r.Context(), &comms.Message{
		Type:    comms.TypeChat,
		Kind:    comms.KindHuman,
		From:    from,
		Content: req.Content,
	})
	if msg == nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		h.Logger.Warn("board subscriber failed", "message", msg.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, msg)
}

// --- Introspection ---

func (h *Handlers) heartbeat(w http.ResponseWriter, _ *http.Request) {
	if h.Heartbeat == nil {
		writeJSON(w, http.StatusOK, heartbeat.Status{})
		return
	}
	writeJSON(w, http.StatusOK, h.Heartbeat.Status())
}

func (h *Handlers) workers(w http.ResponseWriter, _ *http.Request) {
	statuses := []worker.Status{}
	if h.Workers != nil {
		statuses = append(statuses, h.Workers.Statuses()...)
	}
	writeJSON(w, http.StatusOK, statuses)
}

// terminations lists failed tasks whose result carries the sentinel marker.
// Reading from the store covers pollers in every process.
func (h *Handlers) terminations(w http.ResponseWriter, r *http.Request) {
	failed := task.StatusFailed
	tasks, err := h.Tasks.List(r.Context(), task.Filter{Status: &failed})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := []Termination{}
	for _, t := range tasks {
		reason, ok := strings.CutPrefix(t.Result, sentinel.TerminationPrefix)
		if !ok {
			continue
		}
		out = append(out, Termination{
			TaskID:     t.ID,
			Title:      t.Title,
			AssignedTo: t.AssignedTo,
			Reason:     reason,
			At:         t.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": h.Version,
	}
	if !h.StartAt.IsZero() {
		resp["uptime"] = time.Since(h.StartAt).Round(time.Second).String()
	}
	if h.Tasks != nil {
		if counts, err := h.Tasks.CountByStatus(r.Context()); err == nil {
			resp["tasks"] = counts
		} else {
			resp["status"] = "degraded"
			h.Logger.Warn("status: count tasks", "error", err)
		}
	}
	if h.Agents != nil {
		resp["agents"] = len(h.Agents.All())
		resp["active_agents"] = len(h.Agents.Active())
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
