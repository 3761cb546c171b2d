package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// Timestamps are stored as unix nanoseconds so that ordering and the
// stuck-task cutoff compare numerically.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 1,
	assigned_to TEXT NOT NULL DEFAULT '',
	result      TEXT NOT NULL DEFAULT '',
	created_by  TEXT NOT NULL DEFAULT '',
	claimed_by  TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	claimed_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, assigned_to);
`

const taskColumns = `id, title, description, status, priority, assigned_to, result,
	created_by, claimed_by, attempts, created_at, updated_at, claimed_at`

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new queued task and sets its ID, CreatedAt, and UpdatedAt.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) (string, error) {
	prepare(t, uuid.NewString(), s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, string(t.Status), int(t.Priority),
		t.AssignedTo, t.Result, t.CreatedBy, t.ClaimedBy, t.Attempts,
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(), nil,
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// List returns tasks matching the filter.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks WHERE 1=1")
	args := []any{}

	if sts := filter.statuses(); len(sts) > 0 {
		q.WriteString(" AND status IN (" + placeholders(len(sts)) + ")")
		for _, st := range sts {
			args = append(args, string(st))
		}
	}
	if len(filter.AssignedTo) > 0 {
		q.WriteString(" AND assigned_to IN (" + placeholders(len(filter.AssignedTo)) + ")")
		for _, a := range filter.AssignedTo {
			args = append(args, a)
		}
	}
	if filter.ExcludeHuman {
		q.WriteString(" AND assigned_to != ?")
		args = append(args, Human)
	}
	q.WriteString(" ORDER BY priority DESC, created_at ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Claim is a single conditional UPDATE; the affected row count decides the
// winner.
func (s *SQLiteStore) Claim(ctx context.Context, id, workerID string) (bool, error) {
	now := s.now().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=?, claimed_by=?, claimed_at=?, attempts=attempts+1, updated_at=?
		WHERE id=? AND status IN (?,?,?) AND assigned_to != ?`,
		string(StatusInProgress), workerID, now, now,
		id, string(StatusQueued), string(StatusPending), string(StatusOpen), Human,
	)
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", id, err)
	}
	return affected(res)
}

// Complete writes status and result together, once, and only for the
// worker holding the claim.
func (s *SQLiteStore) Complete(ctx context.Context, id, workerID string, status Status, result string) (bool, error) {
	if !validCompletion(status) {
		return false, fmt.Errorf("complete task %s as %q: %w", id, status, ErrInvalidStatus)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=?, result=?, updated_at=?
		WHERE id=? AND status=? AND claimed_by=?`,
		string(status), result, s.now().UnixNano(),
		id, string(StatusInProgress), workerID,
	)
	if err != nil {
		return false, fmt.Errorf("complete task %s: %w", id, err)
	}
	return affected(res)
}

// Reset returns a task to queued and clears its result and claim.
func (s *SQLiteStore) Reset(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=?, result='', claimed_by='', claimed_at=NULL, updated_at=?
		WHERE id=?`,
		string(StatusQueued), s.now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("reset task %s: %w", id, err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// SweepStuck requeues in_progress tasks claimed before now-staleAfter.
func (s *SQLiteStore) SweepStuck(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	now := s.now()
	cutoff := now.Add(-staleAfter).UnixNano()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE tasks SET status=?, claimed_by='', claimed_at=NULL, updated_at=?
		WHERE status=? AND claimed_at IS NOT NULL AND claimed_at < ?
		RETURNING id`,
		string(StatusQueued), now.UnixNano(), string(StatusInProgress), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("sweep stuck tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus groups tasks by canonical status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Normalize(Status(status))] += n
	}
	return counts, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status string
	var priority int
	var createdAt, updatedAt int64
	var claimedAt sql.NullInt64

	err := s.Scan(
		&t.ID, &t.Title, &t.Description, &status, &priority,
		&t.AssignedTo, &t.Result, &t.CreatedBy, &t.ClaimedBy, &t.Attempts,
		&createdAt, &updatedAt, &claimedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if claimedAt.Valid {
		ts := time.Unix(0, claimedAt.Int64).UTC()
		t.ClaimedAt = &ts
	}
	return &t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
