package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process Store. A single mutex serializes every
// transition, which gives the same claim guarantee as the SQL backends
// within one process.
type MemStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		tasks: make(map[string]*Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemStore) Create(_ context.Context, t *Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prepare(t, uuid.NewString(), m.now())
	cp := *t
	m.tasks[t.ID] = &cp
	return t.ID, nil
}

func (m *MemStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return clone(t), nil
}

func (m *MemStore) List(_ context.Context, filter Filter) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sts := filter.statuses()
	var out []*Task
	for _, t := range m.tasks {
		if len(sts) > 0 && !containsStatus(sts, t.Status) {
			continue
		}
		if len(filter.AssignedTo) > 0 && !containsString(filter.AssignedTo, t.AssignedTo) {
			continue
		}
		if filter.ExcludeHuman && t.AssignedTo == Human {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemStore) Claim(_ context.Context, id, workerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || !t.Status.Claimable() || t.AssignedTo == Human {
		return false, nil
	}
	now := m.now()
	t.Status = StatusInProgress
	t.ClaimedBy = workerID
	t.ClaimedAt = &now
	t.Attempts++
	t.UpdatedAt = now
	return true, nil
}

func (m *MemStore) Complete(_ context.Context, id, workerID string, status Status, result string) (bool, error) {
	if !validCompletion(status) {
		return false, fmt.Errorf("complete task %s as %q: %w", id, status, ErrInvalidStatus)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != StatusInProgress || t.ClaimedBy != workerID {
		return false, nil
	}
	t.Status = status
	t.Result = result
	t.UpdatedAt = m.now()
	return true, nil
}

func (m *MemStore) Reset(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	t.Status = StatusQueued
	t.Result = ""
	t.ClaimedBy = ""
	t.ClaimedAt = nil
	t.UpdatedAt = m.now()
	return nil
}

func (m *MemStore) SweepStuck(_ context.Context, staleAfter time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cutoff := now.Add(-staleAfter)
	var ids []string
	for id, t := range m.tasks {
		if t.Status != StatusInProgress || t.ClaimedAt == nil || !t.ClaimedAt.Before(cutoff) {
			continue
		}
		t.Status = StatusQueued
		t.ClaimedBy = ""
		t.ClaimedAt = nil
		t.UpdatedAt = now
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Status]int)
	for _, t := range m.tasks {
		counts[Normalize(t.Status)]++
	}
	return counts, nil
}

func clone(t *Task) *Task {
	cp := *t
	if t.ClaimedAt != nil {
		ts := *t.ClaimedAt
		cp.ClaimedAt = &ts
	}
	return &cp
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
