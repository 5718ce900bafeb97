// Package queue is the Redis-backed task queue that hands uploaded files
// to processing workers. A task is pending from submission until a worker
// pops it, then active until the worker finishes; the union of the two is
// the set of live tasks the repair sweep checks stuck files against.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"argus/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pendingKey = "argus:tasks:pending"
	activeKey  = "argus:tasks:active"
)

// Task is one unit of file-processing work.
type Task struct {
	ID         string    `json:"id"`
	FileID     string    `json:"file_id"`
	CaseID     string    `json:"case_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TaskQueue is the Redis client wrapper for task submission and pickup.
type TaskQueue struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewTaskQueue creates a task queue against a Redis instance.
func NewTaskQueue(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *TaskQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return &TaskQueue{client: client, logger: logger}
}

// Ping tests the Redis connection.
func (q *TaskQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (q *TaskQueue) Close() error {
	return q.client.Close()
}

// Submit enqueues a processing task for a file and returns its id.
func (q *TaskQueue) Submit(ctx context.Context, fileID, caseID string) (string, error) {
	task := Task{
		ID:         uuid.NewString(),
		FileID:     fileID,
		CaseID:     caseID,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task for file %s: %w", fileID, err)
	}
	if err := q.client.LPush(ctx, pendingKey, data).Err(); err != nil {
		return "", fmt.Errorf("enqueue task for file %s: %w", fileID, err)
	}
	q.refreshDepth(ctx)
	q.logger.Infow("Task submitted", "task_id", task.ID, "file_id", fileID, "case_id", caseID)
	return task.ID, nil
}

// Dequeue blocks up to timeout for the next task and marks it active.
// Returns nil without error when the wait times out.
func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	result, err := q.client.BRPop(ctx, timeout, pendingKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("decode task payload: %w", err)
	}
	if err := q.client.SAdd(ctx, activeKey, task.ID).Err(); err != nil {
		return nil, fmt.Errorf("mark task %s active: %w", task.ID, err)
	}
	q.refreshDepth(ctx)
	return &task, nil
}

// Finish retires an active task. status labels the outcome for metrics.
func (q *TaskQueue) Finish(ctx context.Context, taskID, status string) error {
	if err := q.client.SRem(ctx, activeKey, taskID).Err(); err != nil {
		return fmt.Errorf("retire task %s: %w", taskID, err)
	}
	metrics.TasksProcessed.WithLabelValues(status).Inc()
	return nil
}

// PendingCount returns the number of tasks waiting for a worker.
func (q *TaskQueue) PendingCount(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, pendingKey).Result()
}

// ActiveTaskIDs returns every live task id: pending in the list plus
// active on a worker. A file whose task reference is not in this set has
// been orphaned.
func (q *TaskQueue) ActiveTaskIDs(ctx context.Context) (map[string]struct{}, error) {
	live := make(map[string]struct{})

	active, err := q.client.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	for _, id := range active {
		live[id] = struct{}{}
	}

	pending, err := q.client.LRange(ctx, pendingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	for _, raw := range pending {
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			q.logger.Warnw("Skipping undecodable pending task", "error", err)
			continue
		}
		live[task.ID] = struct{}{}
	}
	return live, nil
}

func (q *TaskQueue) refreshDepth(ctx context.Context) {
	if depth, err := q.client.LLen(ctx, pendingKey).Result(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}
