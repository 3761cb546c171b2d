// Package task defines the task model, its lifecycle state machine, and the
// stores that persist agent work items.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"

	// Legacy producer values. Both are claimable and normalize to queued.
	StatusPending Status = "pending"
	StatusOpen    Status = "open"
)

// Human is the assignee value for work that no worker may claim.
const Human = "human"

var (
	// ErrNotFound is returned when a task id does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidStatus is returned for a status that is not valid for the
	// requested transition.
	ErrInvalidStatus = errors.New("invalid task status")
)

// claimable lists every stored status a worker may claim from.
var claimable = []Status{StatusQueued, StatusPending, StatusOpen}

// Claimable reports whether a worker may claim a task in status s.
func (s Status) Claimable() bool {
	for _, c := range claimable {
		if s == c {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Normalize maps legacy aliases onto the canonical status set.
func Normalize(s Status) Status {
	switch Status(strings.ToLower(string(s))) {
	case StatusPending, StatusOpen, StatusQueued, "":
		return StatusQueued
	case StatusInProgress:
		return StatusInProgress
	case StatusDone, "completed":
		return StatusDone
	case StatusFailed:
		return StatusFailed
	}
	return s
}

// Priority orders candidate selection. It never affects correctness.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityMedium   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

var priorityNames = []string{"low", "medium", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return "medium"
	}
	return priorityNames[p]
}

// ParsePriority accepts the names low, medium, high and critical.
// Unknown values map to medium.
func ParsePriority(s string) Priority {
	for i, n := range priorityNames {
		if strings.EqualFold(s, n) {
			return Priority(i)
		}
	}
	return PriorityMedium
}

// MarshalJSON encodes a priority by name.
func (p Priority) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON accepts either a name or the ordinal.
func (p *Priority) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ParsePriority(s)
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("priority %s: %w", b, err)
	}
	if n < int(PriorityLow) || n > int(PriorityCritical) {
		n = int(PriorityMedium)
	}
	*p = Priority(n)
	return nil
}

// Task is a unit of work for an agent.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	AssignedTo  string     `json:"assigned_to,omitempty"` // agent ID or "human"
	Result      string     `json:"result,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	ClaimedBy   string     `json:"claimed_by,omitempty"` // worker ID
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
}

// Store persists tasks. Claim and Complete are the only transitions a
// worker uses; each is a single atomic conditional write.
type Store interface {
	// Create persists a new queued task and returns its assigned ID.
	Create(ctx context.Context, t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns tasks matching the filter, highest priority first.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// Claim moves a claimable task to in_progress on behalf of workerID.
	// It returns false when the task was not claimable, including when
	// another worker won the race.
	Claim(ctx context.Context, id, workerID string) (bool, error)

	// Complete sets the terminal status and result of a task that workerID
	// holds in progress. It returns false when the task was not in progress
	// or another worker holds the claim.
	Complete(ctx context.Context, id, workerID string, status Status, result string) (bool, error)

	// Reset returns a task to queued and clears its result.
	Reset(ctx context.Context, id string) error

	// SweepStuck requeues tasks claimed longer than staleAfter ago and
	// returns their IDs.
	SweepStuck(ctx context.Context, staleAfter time.Duration) ([]string, error)

	// CountByStatus returns the number of tasks in each canonical status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// Filter controls which tasks are returned by List.
type Filter struct {
	// Status filters on a canonical status. StatusQueued also matches the
	// legacy claimable aliases.
	Status *Status `json:"status,omitempty"`
	// AssignedTo matches any of the given assignees.
	AssignedTo []string `json:"assigned_to,omitempty"`
	// ExcludeHuman drops tasks assigned to Human.
	ExcludeHuman bool `json:"exclude_human,omitempty"`
	Limit        int  `json:"limit,omitempty"`
	Offset       int  `json:"offset,omitempty"`
}

// statuses expands a filter status into the stored values it matches.
func (f Filter) statuses() []Status {
	if f.Status == nil {
		return nil
	}
	if Normalize(*f.Status) == StatusQueued {
		return claimable
	}
	return []Status{*f.Status}
}

// validCompletion reports whether status may be written by Complete.
func validCompletion(status Status) bool {
	return status == StatusDone || status == StatusFailed
}

// prepare fills the fields Create owns.
func prepare(t *Task, id string, now time.Time) {
	t.ID = id
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Status = StatusQueued
	t.Result = ""
	t.ClaimedBy = ""
	t.ClaimedAt = nil
	t.Attempts = 0
}

// Next claims the first candidate matching filter for workerID. Candidates
// lost to another worker are skipped. It returns nil when nothing could
// be claimed.
func Next(ctx context.Context, s Store, filter Filter, workerID string) (*Task, error) {
	queued := StatusQueued
	filter.Status = &queued
	filter.ExcludeHuman = true
	candidates, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		ok, err := s.Claim(ctx, c.ID, workerID)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.Get(ctx, c.ID)
		}
	}
	return nil, nil
}
