package main

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/GoCodeAlone/boardroom/comms"
	"github.com/GoCodeAlone/boardroom/server/api"
	"github.com/GoCodeAlone/boardroom/task"
	"github.com/GoCodeAlone/boardroom/worker"
)

// LoginCmd prints a token for use with --token or $BOARDROOM_TOKEN.
type LoginCmd struct {
	Username string `short:"u" default:"admin" help:"Admin user"`
	Password string `short:"p" required:"" env:"BOARDROOM_PASSWORD" help:"Admin password"`
}

func (c *LoginCmd) Run(app *App) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := app.Client.post("/api/auth/login", map[string]string{
		"username": c.Username,
		"password": c.Password,
	}, &resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out, resp.Token)
	return nil
}

// StatusCmd shows server status and task counts.
type StatusCmd struct{}

func (c *StatusCmd) Run(app *App) error {
	var result struct {
		Status       string         `json:"status"`
		Version      string         `json:"version"`
		Uptime       string         `json:"uptime"`
		Tasks        map[string]int `json:"tasks"`
		Agents       int            `json:"agents"`
		ActiveAgents int            `json:"active_agents"`
	}
	if err := app.Client.get("/api/status", nil, &result); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "status:  %s\n", result.Status)
	fmt.Fprintf(app.Out, "version: %s\n", result.Version)
	if result.Uptime != "" {
		fmt.Fprintf(app.Out, "uptime:  %s\n", result.Uptime)
	}
	fmt.Fprintf(app.Out, "agents:  %d (%d active)\n", result.Agents, result.ActiveAgents)
	if len(result.Tasks) > 0 {
		names := make([]string, 0, len(result.Tasks))
		for s := range result.Tasks {
			names = append(names, s)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, s := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", s, result.Tasks[s]))
		}
		fmt.Fprintf(app.Out, "tasks:   %s\n", strings.Join(parts, " "))
	}
	return nil
}

// AgentsCmd lists the roster.
type AgentsCmd struct {
	Role   string `help:"Only agents with this role"`
	Active bool   `help:"Only active agents"`
}

func (c *AgentsCmd) Run(app *App) error {
	q := url.Values{}
	if c.Role != "" {
		q.Set("role", c.Role)
	}
	if c.Active {
		q.Set("active", "true")
	}
	var agents []api.AgentInfo
	if err := app.Client.get("/api/agents", q, &agents); err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Fprintln(app.Out, "no agents")
		return nil
	}
	tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tREPORTS TO\tACTIVE")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", a.ID, a.DisplayName, a.Role, a.ReportsTo, a.Active)
	}
	return tw.Flush()
}

// AgentCmd shows one agent by ID or role.
type AgentCmd struct {
	ID string `arg:"" help:"Agent ID or role"`
}

func (c *AgentCmd) Run(app *App) error {
	var a api.AgentInfo
	if err := app.Client.get("/api/agents/"+url.PathEscape(c.ID), nil, &a); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "id:       %s\n", a.ID)
	fmt.Fprintf(app.Out, "name:     %s\n", a.DisplayName)
	fmt.Fprintf(app.Out, "role:     %s\n", a.Role)
	fmt.Fprintf(app.Out, "active:   %t\n", a.Active)
	fmt.Fprintf(app.Out, "tools:    %s\n", strings.Join(a.AllowedTools, ", "))
	if len(a.Chain) > 0 {
		fmt.Fprintf(app.Out, "chain:    %s\n", strings.Join(a.Chain, " -> "))
	}
	if len(a.DirectReports) > 0 {
		fmt.Fprintf(app.Out, "reports:  %s\n", strings.Join(a.DirectReports, ", "))
	}
	return nil
}

// TasksCmd lists tasks.
type TasksCmd struct {
	Status     string   `short:"s" help:"Filter by status (queued, in_progress, done, failed)"`
	AssignedTo []string `short:"a" help:"Filter by assignee (repeatable)"`
	Limit      int      `short:"n" default:"50" help:"Maximum tasks to show"`
}

func (c *TasksCmd) Run(app *App) error {
	q := url.Values{}
	if c.Status != "" {
		q.Set("status", c.Status)
	}
	if len(c.AssignedTo) > 0 {
		q.Set("assigned_to", strings.Join(c.AssignedTo, ","))
	}
	if c.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.Limit))
	}
	var tasks []task.Task
	if err := app.Client.get("/api/tasks", q, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(app.Out, "no tasks")
		return nil
	}
	tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tASSIGNED\tPRIORITY\tSTATUS")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, truncate(t.Title, 40), t.AssignedTo, t.Priority, t.Status)
	}
	return tw.Flush()
}

// TaskCmd groups single-task operations.
type TaskCmd struct {
	Create TaskCreateCmd `cmd:"" help:"Create a task"`
	Show   TaskShowCmd   `cmd:"" help:"Show a task"`
	Reset  TaskResetCmd  `cmd:"" help:"Return a task to the queue"`
}

// TaskCreateCmd creates a task.
type TaskCreateCmd struct {
	Title       []string `arg:"" help:"Task title"`
	To          string   `short:"t" required:"" help:"Assignee agent ID, role, or 'human'"`
	Description string   `short:"d" help:"Task description"`
	Priority    string   `short:"p" default:"medium" enum:"low,medium,high,critical" help:"Priority"`
}

func (c *TaskCreateCmd) Run(app *App) error {
	var t task.Task
	err := app.Client.post("/api/tasks", map[string]string{
		"title":       strings.Join(c.Title, " "),
		"description": c.Description,
		"assigned_to": c.To,
		"priority":    c.Priority,
	}, &t)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "created task %s for %s\n", t.ID, t.AssignedTo)
	return nil
}

// TaskShowCmd shows one task.
type TaskShowCmd struct {
	ID string `arg:"" help:"Task ID"`
}

func (c *TaskShowCmd) Run(app *App) error {
	var t task.Task
	if err := app.Client.get("/api/tasks/"+url.PathEscape(c.ID), nil, &t); err != nil {
		return err
	}
	printTask(app, &t)
	return nil
}

func printTask(app *App, t *task.Task) {
	fmt.Fprintf(app.Out, "id:          %s\n", t.ID)
	fmt.Fprintf(app.Out, "title:       %s\n", t.Title)
	fmt.Fprintf(app.Out, "status:      %s\n", t.Status)
	fmt.Fprintf(app.Out, "priority:    %s\n", t.Priority)
	fmt.Fprintf(app.Out, "assigned to: %s\n", t.AssignedTo)
	if t.CreatedBy != "" {
		fmt.Fprintf(app.Out, "created by:  %s\n", t.CreatedBy)
	}
	if t.ClaimedBy != "" {
		fmt.Fprintf(app.Out, "claimed by:  %s\n", t.ClaimedBy)
	}
	fmt.Fprintf(app.Out, "updated:     %s\n", t.UpdatedAt.Local().Format(time.DateTime))
	if t.Description != "" {
		fmt.Fprintf(app.Out, "\n%s\n", t.Description)
	}
	if t.Result != "" {
		fmt.Fprintf(app.Out, "\nresult:\n%s\n", t.Result)
	}
}

// TaskResetCmd requeues a task.
type TaskResetCmd struct {
	ID string `arg:"" help:"Task ID"`
}

func (c *TaskResetCmd) Run(app *App) error {
	var t task.Task
	if err := app.Client.post("/api/tasks/"+url.PathEscape(c.ID)+"/reset", nil, &t); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "task %s is %s\n", t.ID, t.Status)
	return nil
}

// SweepCmd asks the server to requeue stuck tasks.
type SweepCmd struct {
	StaleAfter time.Duration `help:"Requeue tasks claimed longer ago than this (server default when unset)"`
}

func (c *SweepCmd) Run(app *App) error {
	q := url.Values{}
	if c.StaleAfter > 0 {
		q.Set("stale_after", c.StaleAfter.String())
	}
	path := "/api/tasks/sweep"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Requeued []string `json:"requeued"`
	}
	if err := app.Client.post(path, nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "requeued %d task(s)\n", len(resp.Requeued))
	for _, id := range resp.Requeued {
		fmt.Fprintln(app.Out, "  "+id)
	}
	return nil
}

// SayCmd posts to the board room. Mention an agent with @id or @role to
// hand it a task.
type SayCmd struct {
	Text []string `arg:"" help:"Message text"`
}

func (c *SayCmd) Run(app *App) error {
	var msg comms.Message
	if err := app.Client.post("/api/messages", map[string]string{"content": strings.Join(c.Text, " ")}, &msg); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "posted #%d\n", msg.Seq)
	return nil
}

// MessagesCmd prints the board room.
type MessagesCmd struct {
	Since uint64 `help:"Only messages after this sequence number"`
	Limit int    `short:"n" default:"20" help:"Maximum messages to show"`
}

func (c *MessagesCmd) Run(app *App) error {
	q := url.Values{"limit": {strconv.Itoa(c.Limit)}}
	if c.Since > 0 {
		q.Set("since", strconv.FormatUint(c.Since, 10))
	}
	var msgs []comms.Message
	if err := app.Client.get("/api/messages", q, &msgs); err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintf(app.Out, "#%d %s [%s] %s: %s\n",
			m.Seq, m.Timestamp.Local().Format(time.TimeOnly), m.Type, m.From, m.Content)
	}
	return nil
}

// WorkersCmd prints the pollers running in the server process.
type WorkersCmd struct{}

func (c *WorkersCmd) Run(app *App) error {
	var statuses []worker.Status
	if err := app.Client.get("/api/workers", nil, &statuses); err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(app.Out, "no workers in the server process")
		return nil
	}
	tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tMODE\tCURRENT\tDONE\tFAILED")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", s.WorkerID, s.Mode, s.CurrentTask, s.Processed, s.Failed)
	}
	return tw.Flush()
}

// TerminationsCmd lists sentinel kills.
type TerminationsCmd struct{}

func (c *TerminationsCmd) Run(app *App) error {
	var out []api.Termination
	if err := app.Client.get("/api/sentinel/terminations", nil, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		fmt.Fprintln(app.Out, "no terminations")
		return nil
	}
	tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tAGENT\tAT\tREASON")
	for _, t := range out {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.TaskID, t.AssignedTo, t.At, truncate(t.Reason, 60))
	}
	return tw.Flush()
}
