// Package queue is a Redis-backed task queue with visibility timeouts.
//
// A received task is hidden from other consumers until its visibility
// deadline passes. Unacknowledged tasks become receivable again after the
// deadline, which gives at-least-once delivery. Tasks delivered more than
// MaxDeliveries times are moved to a dead-letter list.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ErrTaskLost is returned when a task is no longer in flight, either because
// it was acknowledged or because its visibility deadline lapsed and another
// consumer received it.
var ErrTaskLost = errors.New("queue: task is no longer in flight")

// Task is one unit of processing work for a file.
type Task struct {
	ID                 string
	FileID             string
	EnqueuedAt         time.Time
	VisibilityDeadline time.Time
	DeliveryCount      int
}

// TaskQueue is the contract the ingestion, worker and reconcile paths rely on.
type TaskQueue interface {
	Enqueue(ctx context.Context, fileID string) (*Task, error)
	// Receive blocks up to timeout and returns nil when nothing became available.
	Receive(ctx context.Context, timeout time.Duration) (*Task, error)
	Ack(ctx context.Context, task *Task) error
	// ExtendVisibility sets the task's deadline to now+d.
	ExtendVisibility(ctx context.Context, task *Task, d time.Duration) error
	// HasLiveTask reports whether an unacknowledged task exists for fileID.
	HasLiveTask(ctx context.Context, fileID string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Stats is a point-in-time snapshot of queue depth.
type Stats struct {
	Ready    int64 `json:"ready"`
	InFlight int64 `json:"in_flight"`
	Dead     int64 `json:"dead"`
}

// Options configures a RedisQueue.
type Options struct {
	// Name prefixes every key the queue owns.
	Name              string
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	// MaxDeliveries of zero disables dead-lettering.
	MaxDeliveries int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// RedisQueue implements TaskQueue on a Redis list, sorted set and hashes.
type RedisQueue struct {
	client redis.UniversalClient
	opts   Options
}

// New creates a queue on client. The queue takes ownership of the client
// and closes it on Close.
func New(client redis.UniversalClient, opts Options) *RedisQueue {
	if opts.Name == "" {
		opts.Name = "rustler:files"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisQueue{client: client, opts: opts}
}

// keyPrefix wraps the queue name in a Redis Cluster hash tag so every key
// the queue owns, including the task hashes the receive script derives from
// the prefix, lands in one slot.
func (q *RedisQueue) keyPrefix() string {
	if strings.ContainsAny(q.opts.Name, "{}") {
		return q.opts.Name
	}
	return "{" + q.opts.Name + "}"
}

func (q *RedisQueue) readyKey() string    { return q.keyPrefix() + ":ready" }
func (q *RedisQueue) inflightKey() string { return q.keyPrefix() + ":inflight" }
func (q *RedisQueue) deadKey() string     { return q.keyPrefix() + ":dead" }
func (q *RedisQueue) filesKey() string    { return q.keyPrefix() + ":files" }
func (q *RedisQueue) taskKey(id string) string {
	return q.keyPrefix() + ":task:" + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, fileID string) (*Task, error) {
	if fileID == "" {
		return nil, errors.New("queue: file id cannot be empty")
	}
	now := q.opts.Now()
	task := &Task{
		ID:         uuid.NewString(),
		FileID:     fileID,
		EnqueuedAt: now,
	}
	keys := []string{q.readyKey(), q.filesKey(), q.taskKey(task.ID)}
	if err := enqueueScript.Run(ctx, q.client, keys, task.ID, fileID, now.UnixMilli()).Err(); err != nil {
		return nil, fmt.Errorf("enqueue task for file %s: %w", fileID, err)
	}
	log.WithFields(log.Fields{"task_id": task.ID, "file_id": fileID}).Debug("Task enqueued")
	return task, nil
}

func (q *RedisQueue) Receive(ctx context.Context, timeout time.Duration) (*Task, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		task, err := q.tryReceive(ctx)
		if err != nil || task != nil {
			return task, err
		}

		poll := time.NewTimer(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			poll.Stop()
			return nil, nil
		case <-poll.C:
		}
	}
}

func (q *RedisQueue) tryReceive(ctx context.Context) (*Task, error) {
	now := q.opts.Now()
	maxDeliveries := q.opts.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = int(^uint32(0) >> 1)
	}
	keys := []string{q.readyKey(), q.inflightKey(), q.deadKey(), q.filesKey()}
	res, err := receiveScript.Run(ctx, q.client, keys,
		q.keyPrefix(), now.UnixMilli(), q.opts.VisibilityTimeout.Milliseconds(), maxDeliveries,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive task: %w", err)
	}
	return parseReceived(res)
}

func parseReceived(res []any) (*Task, error) {
	if len(res) != 5 {
		return nil, fmt.Errorf("receive task: unexpected reply length %d", len(res))
	}
	id, _ := res[0].(string)
	fileID, _ := res[1].(string)
	enqueuedRaw, _ := res[2].(string)
	count, _ := res[3].(int64)
	deadline, _ := res[4].(int64)

	enqueuedMs, err := strconv.ParseInt(enqueuedRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("receive task %s: bad enqueued_at %q: %w", id, enqueuedRaw, err)
	}
	return &Task{
		ID:                 id,
		FileID:             fileID,
		EnqueuedAt:         time.UnixMilli(enqueuedMs),
		VisibilityDeadline: time.UnixMilli(deadline),
		DeliveryCount:      int(count),
	}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, task *Task) error {
	keys := []string{q.readyKey(), q.inflightKey(), q.filesKey(), q.taskKey(task.ID)}
	if err := ackScript.Run(ctx, q.client, keys, task.ID, task.FileID).Err(); err != nil {
		return fmt.Errorf("ack task %s: %w", task.ID, err)
	}
	return nil
}

func (q *RedisQueue) ExtendVisibility(ctx context.Context, task *Task, d time.Duration) error {
	deadline := q.opts.Now().Add(d)
	n, err := extendScript.Run(ctx, q.client, []string{q.inflightKey()}, task.ID, deadline.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("extend visibility of task %s: %w", task.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("extend visibility of task %s: %w", task.ID, ErrTaskLost)
	}
	task.VisibilityDeadline = time.UnixMilli(deadline.UnixMilli())
	return nil
}

func (q *RedisQueue) HasLiveTask(ctx context.Context, fileID string) (bool, error) {
	taskID, err := q.client.HGet(ctx, q.filesKey(), fileID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up live task for file %s: %w", fileID, err)
	}
	n, err := q.client.Exists(ctx, q.taskKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("look up live task for file %s: %w", fileID, err)
	}
	return n == 1, nil
}

// Stats reports queue depth.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey())
	inflight := pipe.ZCard(ctx, q.inflightKey())
	dead := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Ready: ready.Val(), InFlight: inflight.Val(), Dead: dead.Val()}, nil
}

// DeadLetters returns up to limit dead-lettered tasks, most recent first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]*Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := q.client.LRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, q.taskKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("load dead letters: %w", err)
		}
	}

	tasks := make([]*Task, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		task := &Task{ID: id, FileID: fields["file_id"]}
		if ms, err := strconv.ParseInt(fields["enqueued_at"], 10, 64); err == nil {
			task.EnqueuedAt = time.UnixMilli(ms)
		}
		if n, err := strconv.Atoi(fields["delivery_count"]); err == nil {
			task.DeliveryCount = n
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ TaskQueue = (*RedisQueue)(nil)
