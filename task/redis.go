package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	redisIndexKey  = "boardroom:tasks"
	redisTaskKeyNS = "boardroom:task:"
)

// Each transition runs as one Lua script so the status check and the write
// happen atomically on the server, across any number of hosts.
var (
	claimScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 0 end
if st ~= 'queued' and st ~= 'pending' and st ~= 'open' then return 0 end
if redis.call('HGET', KEYS[1], 'assigned_to') == ARGV[3] then return 0 end
redis.call('HSET', KEYS[1], 'status', 'in_progress', 'claimed_by', ARGV[1], 'claimed_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
return 1`)

	completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'in_progress' then return 0 end
if redis.call('HGET', KEYS[1], 'claimed_by') ~= ARGV[4] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'result', ARGV[2], 'updated_at', ARGV[3])
return 1`)

	resetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'status', 'queued', 'result', '', 'claimed_by', '', 'claimed_at', '0', 'updated_at', ARGV[1])
return 1`)

	requeueScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'in_progress' then return 0 end
local at = tonumber(redis.call('HGET', KEYS[1], 'claimed_at') or '0')
if at == 0 or at >= tonumber(ARGV[1]) then return 0 end
redis.call('HSET', KEYS[1], 'status', 'queued', 'claimed_by', '', 'claimed_at', '0', 'updated_at', ARGV[2])
return 1`)
)

// RedisStore keeps each task in a hash and indexes ids in a sorted set
// scored by creation time.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &RedisStore{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error { return s.rdb.Close() }

func taskKey(id string) string { return redisTaskKeyNS + id }

func (s *RedisStore) Create(ctx context.Context, t *Task) (string, error) {
	prepare(t, uuid.NewString(), s.now())
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, taskKey(t.ID), map[string]interface{}{
			"id":          t.ID,
			"title":       t.Title,
			"description": t.Description,
			"status":      string(t.Status),
			"priority":    int(t.Priority),
			"assigned_to": t.AssignedTo,
			"result":      "",
			"created_by":  t.CreatedBy,
			"claimed_by":  "",
			"attempts":    0,
			"created_at":  t.CreatedAt.UnixMilli(),
			"updated_at":  t.UpdatedAt.UnixMilli(),
			"claimed_at":  0,
		})
		pipe.ZAdd(ctx, redisIndexKey, &redis.Z{Score: float64(t.CreatedAt.UnixMilli()), Member: t.ID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Task, error) {
	fields, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return decodeHash(fields), nil
}

func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	sts := filter.statuses()
	var out []*Task
	for _, t := range all {
		if len(sts) > 0 && !containsStatus(sts, t.Status) {
			continue
		}
		if len(filter.AssignedTo) > 0 && !containsString(filter.AssignedTo, t.AssignedTo) {
			continue
		}
		if filter.ExcludeHuman && t.AssignedTo == Human {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
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

func (s *RedisStore) Claim(ctx context.Context, id, workerID string) (bool, error) {
	n, err := claimScript.Run(ctx, s.rdb, []string{taskKey(id)},
		workerID, s.now().UnixMilli(), Human).Int()
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Complete(ctx context.Context, id, workerID string, status Status, result string) (bool, error) {
	if !validCompletion(status) {
		return false, fmt.Errorf("complete task %s as %q: %w", id, status, ErrInvalidStatus)
	}
	n, err := completeScript.Run(ctx, s.rdb, []string{taskKey(id)},
		string(status), result, s.now().UnixMilli(), workerID).Int()
	if err != nil {
		return false, fmt.Errorf("complete task %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Reset(ctx context.Context, id string) error {
	n, err := resetScript.Run(ctx, s.rdb, []string{taskKey(id)}, s.now().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("reset task %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *RedisStore) SweepStuck(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	inProgress := StatusInProgress
	candidates, err := s.List(ctx, Filter{Status: &inProgress})
	if err != nil {
		return nil, err
	}
	now := s.now()
	cutoff := now.Add(-staleAfter).UnixMilli()
	var ids []string
	for _, t := range candidates {
		n, err := requeueScript.Run(ctx, s.rdb, []string{taskKey(t.ID)}, cutoff, now.UnixMilli()).Int()
		if err != nil {
			return ids, fmt.Errorf("sweep task %s: %w", t.ID, err)
		}
		if n == 1 {
			ids = append(ids, t.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int)
	for _, t := range all {
		counts[Normalize(t.Status)]++
	}
	return counts, nil
}

// all loads every indexed task in creation order.
func (s *RedisStore) all(ctx context.Context) ([]*Task, error) {
	ids, err := s.rdb.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HGetAll(ctx, taskKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]*Task, 0, len(cmds))
	for _, c := range cmds {
		fields, err := c.(*redis.StringStringMapCmd).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		tasks = append(tasks, decodeHash(fields))
	}
	return tasks, nil
}

func decodeHash(f map[string]string) *Task {
	t := &Task{
		ID:          f["id"],
		Title:       f["title"],
		Description: f["description"],
		Status:      Status(f["status"]),
		AssignedTo:  f["assigned_to"],
		Result:      f["result"],
		CreatedBy:   f["created_by"],
		ClaimedBy:   f["claimed_by"],
	}
	p, _ := strconv.Atoi(f["priority"])
	t.Priority = Priority(p)
	t.Attempts, _ = strconv.Atoi(f["attempts"])
	t.CreatedAt = millis(f["created_at"])
	t.UpdatedAt = millis(f["updated_at"])
	if ms, _ := strconv.ParseInt(f["claimed_at"], 10, 64); ms > 0 {
		ts := time.UnixMilli(ms).UTC()
		t.ClaimedAt = &ts
	}
	return t
}

func millis(s string) time.Time {
	ms, _ := strconv.ParseInt(s, 10, 64)
	return time.UnixMilli(ms).UTC()
}
