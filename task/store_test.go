package task

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "boardroom-task-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() {
		os.Remove(path)
		os.Remove(path + "-wal")
		os.Remove(path + "-shm")
	})

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// testClock is a settable clock shared by a store under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// forEachStore runs fn against every backend available in this environment.
// Redis runs only when REDIS_TEST_ADDR is set; its database 15 is flushed.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clock *testClock)) {
	t.Run("sqlite", func(t *testing.T) {
		s := newTestStore(t)
		clock := &testClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
		s.now = clock.Now
		fn(t, s, clock)
	})
	t.Run("memory", func(t *testing.T) {
		s := NewMemStore()
		clock := &testClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
		s.now = clock.Now
		fn(t, s, clock)
	})
	t.Run("redis", func(t *testing.T) {
		addr := os.Getenv("REDIS_TEST_ADDR")
		if addr == "" {
			t.Skip("REDIS_TEST_ADDR not set")
		}
		ctx := context.Background()
		s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, DB: 15})
		if err != nil {
			t.Fatalf("NewRedisStore: %v", err)
		}
		if err := s.rdb.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("FlushDB: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		clock := &testClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
		s.now = clock.Now
		fn(t, s, clock)
	})
}

func mustCreate(t *testing.T, s Store, tk *Task) string {
	t.Helper()
	id, err := s.Create(context.Background(), tk)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func TestStore_CreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *testClock) {
		ctx := context.Background()
		tk := &Task{
			Title:       "Write landing copy",
			Description: "Draft the hero section",
			Status:      StatusDone, // ignored on create
			Result:      "stale",    // ignored on create
			Priority:    PriorityHigh,
			AssignedTo:  "cmo-agent",
			CreatedBy:   "ceo-agent",
		}
		id := mustCreate(t, s, tk)
		if id == "" {
			t.Fatal("Create returned empty ID")
		}
		if tk.ID != id {
			t.Errorf("task.ID = %q, want %q", tk.ID, id)
		}

		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Title != tk.Title {
			t.Errorf("Title = %q, want %q", got.Title, tk.Title)
		}
		if got.Status != StatusQueued {
			t.Errorf("Status = %q, want %q", got.Status, StatusQueued)
		}
		if got.Result != "" {
			t.Errorf("Result = %q, want empty", got.Result)
		}
		if got.Priority != PriorityHigh {
			t.Errorf("Priority = %v, want %v", got.Priority, PriorityHigh)
		}
		if got.CreatedBy != "ceo-agent" {
			t.Errorf("CreatedBy = %q, want ceo-agent", got.CreatedBy)
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
	})
}

func TestStore_GetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *testClock) {
		_, err := s.Get(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_ListOrderAndFilter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		low := mustCreate(t, s, &Task{Title: "low", Priority: PriorityLow, AssignedTo: "a"})
		clock.Advance(time.Millisecond)
		crit := mustCreate(t, s, &Task{Title: "crit", Priority: PriorityCritical, AssignedTo: "a"})
		clock.Advance(time.Millisecond)
		mustCreate(t, s, &Task{Title: "other", Priority: PriorityHigh, AssignedTo: "b"})
		clock.Advance(time.Millisecond)
		mustCreate(t, s, &Task{Title: "mine", Priority: PriorityHigh, AssignedTo: Human})

		got, err := s.List(ctx, Filter{AssignedTo: []string{"a"}})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List len = %d, want 2", len(got))
		}
		if got[0].ID != crit || got[1].ID != low {
			t.Errorf("order = [%s %s], want [crit low]", got[0].Title, got[1].Title)
		}

		all, err := s.List(ctx, Filter{ExcludeHuman: true})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("ExcludeHuman len = %d, want 3", len(all))
		}

		limited, err := s.List(ctx, Filter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("Limit len = %d, want 1", len(limited))
		}
	})
}

func TestStore_ClaimExclusive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *testClock) {
		ctx := context.Background()
		id := mustCreate(t, s, &Task{Title: "contended", AssignedTo: "dev-agent"})

		const workers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				<-start
				ok, err := s.Claim(ctx, id, "worker-"+strconv.Itoa(n))
				if err != nil {
					t.Errorf("Claim: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Fatalf("successful claims = %d, want 1", got)
		}
		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != StatusInProgress {
			t.Errorf("Status = %q, want in_progress", got.Status)
		}
		if got.ClaimedBy == "" || got.ClaimedAt == nil {
			t.Errorf("claim not recorded: by=%q at=%v", got.ClaimedBy, got.ClaimedAt)
		}
		if got.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", got.Attempts)
		}
	})
}

func TestStore_ClaimHumanTask(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *testClock) {
		id := mustCreate(t, s, &Task{Title: "sign contract", AssignedTo: Human})
		ok, err := s.Claim(context.Background(), id, "w1")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if ok {
			t.Error("claimed a task assigned to human")
		}
	})
}

func TestStore_CompleteOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *testClock) {
		ctx := context.Background()
		id := mustCreate(t, s, &Task{Title: "t", AssignedTo: "a"})

		// not claimed yet
		if ok, err := s.Complete(ctx, id, "w1", StatusDone, "early"); err != nil || ok {
			t.Fatalf("Complete before claim = %v, %v; want false, nil", ok, err)
		}
		if ok, _ := s.Claim(ctx, id, "w1"); !ok {
			t.Fatal("Claim failed")
		}
		if ok, err := s.Complete(ctx, id, "w1", StatusDone, "first"); err != nil || !ok {
			t.Fatalf("Complete = %v, %v; want true, nil", ok, err)
		}
		if ok, err := s.Complete(ctx, id, "w1", StatusFailed, "second"); err != nil || ok {
			t.Fatalf("second Complete = %v, %v; want false, nil", ok, err)
		}
		if ok, _ := s.Claim(ctx, id, "w2"); ok {
			t.Error("claimed a terminal task")
		}

		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != StatusDone || got.Result != "first" {
			t.Errorf("got status=%q result=%q, want done/first", got.Status, got.Result)
		}
	})
}

func TestStore_CompleteRequiresClaimHolder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		id := mustCreate(t, s, &Task{Title: "slow", AssignedTo: "a"})

		if ok, _ := s.Claim(ctx, id, "worker-A"); !ok {
			t.Fatal("Claim by worker-A failed")
		}
		clock.Advance(time.Hour)
		if ids, err := s.SweepStuck(ctx, time.Minute); err != nil || len(ids) != 1 {
			t.Fatalf("SweepStuck = %v, %v; want one id", ids, err)
		}
		if ok, _ := s.Claim(ctx, id, "worker-B"); !ok {
			t.Fatal("Claim by worker-B failed")
		}

		// worker-A is still running and finishes late.
		if ok, err := s.Complete(ctx, id, "worker-A", StatusDone, "stale result from A"); err != nil || ok {
			t.Fatalf("Complete by former holder = %v, %v; want false, nil", ok, err)
		}
		if ok, err := s.Complete(ctx, id, "worker-B", StatusDone, "result from B"); err != nil || !ok {
			t.Fatalf("Complete by holder = %v, %v; want true, nil", ok, err)
		}

		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ClaimedBy != "worker-B" || got.Result != "result from B" {
			t.Errorf("got claimed_by=%q result=%q, want worker-B/result from B", got.ClaimedBy, got.Result)
		}
	})
}

func TestStore_CompleteInvalidStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *testClock) {
		ctx := context.Background()
		id := mustCreate(t, s, &Task{Title: "t", AssignedTo: "a"})
		s.Claim(ctx, id, "w1")
		_, err := s.Complete(ctx, id, "w1", StatusQueued, "x")
		if !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("err = %v, want ErrInvalidStatus", err)
		}
	})
}

func TestStore_Reset(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *testClock) {
		ctx := context.Background()
		id := mustCreate(t, s, &Task{Title: "t", AssignedTo: "a"})
		s.Claim(ctx, id, "w1")
		s.Complete(ctx, id, "w1", StatusFailed, "SECURITY TERMINATION: spam")

		if err := s.Reset(ctx, id); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		got, _ := s.Get(ctx, id)
		if got.Status != StatusQueued || got.Result != "" || got.ClaimedBy != "" {
			t.Errorf("after reset: status=%q result=%q claimed_by=%q", got.Status, got.Result, got.ClaimedBy)
		}
		if ok, _ := s.Claim(ctx, id, "w2"); !ok {
			t.Error("reset task not claimable")
		}
		got, _ = s.Get(ctx, id)
		if got.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", got.Attempts)
		}

		if err := s.Reset(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Reset(missing) err = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_SweepStuck(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		stale := mustCreate(t, s, &Task{Title: "stale", AssignedTo: "a"})
		fresh := mustCreate(t, s, &Task{Title: "fresh", AssignedTo: "a"})
		done := mustCreate(t, s, &Task{Title: "done", AssignedTo: "a"})

		s.Claim(ctx, stale, "w1")
		s.Claim(ctx, done, "w1")
		s.Complete(ctx, done, "w1", StatusDone, "ok")
		clock.Advance(20 * time.Minute)
		s.Claim(ctx, fresh, "w2")

		ids, err := s.SweepStuck(ctx, 10*time.Minute)
		if err != nil {
			t.Fatalf("SweepStuck: %v", err)
		}
		if len(ids) != 1 || ids[0] != stale {
			t.Fatalf("swept = %v, want [%s]", ids, stale)
		}
		got, _ := s.Get(ctx, stale)
		if got.Status != StatusQueued {
			t.Errorf("stale status = %q, want queued", got.Status)
		}
		got, _ = s.Get(ctx, fresh)
		if got.Status != StatusInProgress {
			t.Errorf("fresh status = %q, want in_progress", got.Status)
		}
		got, _ = s.Get(ctx, done)
		if got.Status != StatusDone || got.Result != "ok" {
			t.Errorf("done task changed: %q %q", got.Status, got.Result)
		}
	})
}

func TestStore_CountByStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *testClock) {
		ctx := context.Background()
		a := mustCreate(t, s, &Task{Title: "a", AssignedTo: "x"})
		mustCreate(t, s, &Task{Title: "b", AssignedTo: "x"})
		s.Claim(ctx, a, "w")

		counts, err := s.CountByStatus(ctx)
		if err != nil {
			t.Fatalf("CountByStatus: %v", err)
		}
		if counts[StatusQueued] != 1 || counts[StatusInProgress] != 1 {
			t.Errorf("counts = %v", counts)
		}
	})
}

func TestNext_PriorityAndSkip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		mustCreate(t, s, &Task{Title: "low", Priority: PriorityLow, AssignedTo: "a"})
		clock.Advance(time.Millisecond)
		high := mustCreate(t, s, &Task{Title: "high", Priority: PriorityHigh, AssignedTo: "a"})
		clock.Advance(time.Millisecond)
		mustCreate(t, s, &Task{Title: "human", Priority: PriorityCritical, AssignedTo: Human})

		got, err := Next(ctx, s, Filter{}, "w1")
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got == nil || got.ID != high {
			t.Fatalf("Next = %+v, want high priority task", got)
		}
		if got.Status != StatusInProgress {
			t.Errorf("Status = %q, want in_progress", got.Status)
		}

		got, _ = Next(ctx, s, Filter{AssignedTo: []string{"a"}}, "w1")
		if got == nil || got.Title != "low" {
			t.Fatalf("second Next = %+v, want low", got)
		}
		got, _ = Next(ctx, s, Filter{}, "w1")
		if got != nil {
			t.Errorf("third Next = %+v, want nil", got)
		}
	})
}

func TestSQLiteStore_LegacyStatusesClaimable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pending := mustCreate(t, s, &Task{Title: "legacy pending", AssignedTo: "a"})
	open := mustCreate(t, s, &Task{Title: "legacy open", AssignedTo: "a"})
	if _, err := s.db.Exec(`UPDATE tasks SET status='pending' WHERE id=?`, pending); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE tasks SET status='open' WHERE id=?`, open); err != nil {
		t.Fatalf("seed: %v", err)
	}

	queued := StatusQueued
	got, err := s.List(ctx, Filter{Status: &queued})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("queued filter matched %d, want 2", len(got))
	}
	for _, id := range []string{pending, open} {
		if ok, _ := s.Claim(ctx, id, "w"); !ok {
			t.Errorf("legacy task %s not claimable", id)
		}
	}
	counts, _ := s.CountByStatus(ctx)
	if counts[StatusInProgress] != 2 {
		t.Errorf("counts = %v", counts)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   Status
		want Status
	}{
		{StatusPending, StatusQueued},
		{StatusOpen, StatusQueued},
		{"", StatusQueued},
		{"completed", StatusDone},
		{"IN_PROGRESS", StatusInProgress},
		{StatusFailed, StatusFailed},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	if got := ParsePriority("Critical"); got != PriorityCritical {
		t.Errorf("ParsePriority(Critical) = %v", got)
	}
	if got := ParsePriority("bogus"); got != PriorityMedium {
		t.Errorf("ParsePriority(bogus) = %v, want medium", got)
	}
	var p Priority
	if err := json.Unmarshal([]byte(`"high"`), &p); err != nil || p != PriorityHigh {
		t.Errorf("Unmarshal(high) = %v, %v", p, err)
	}
	if err := json.Unmarshal([]byte(`3`), &p); err != nil || p != PriorityCritical {
		t.Errorf("Unmarshal(3) = %v, %v", p, err)
	}
}
