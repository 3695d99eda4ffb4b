package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/flowgraph/workflow"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 8

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisProgressTracker is a Redis-based workflow.ProgressTracker. Updates use
// WATCH/MULTI so a terminal state written by one process is never overwritten
// by another.
type RedisProgressTracker struct {
	client redis.UniversalClient
	cfg    redisConfig
}

// NewRedisProgressTracker creates a tracker on an existing client.
func NewRedisProgressTracker(client redis.UniversalClient, opts ...RedisOption) *RedisProgressTracker {
	return &RedisProgressTracker{client: client, cfg: newRedisConfig(opts)}
}

func (t *RedisProgressTracker) taskKey(taskID string) string {
	return t.cfg.prefix + "task:" + taskID
}

func (t *RedisProgressTracker) GenerateTaskID() string { return workflow.NewTaskID() }

func (t *RedisProgressTracker) Begin(ctx context.Context, taskID, instanceID, stepID, message string) error {
	p := &workflow.Progress{
		TaskID:     taskID,
		InstanceID: instanceID,
		StepID:     stepID,
		Message:    message,
		Status:     workflow.ProgressPending,
		StartTime:  time.Now(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", taskID, err)
	}
	created, err := t.client.SetNX(ctx, t.taskKey(taskID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("begin task %s: %w", taskID, err)
	}
	if !created {
		return fmt.Errorf("begin task %s: %w", taskID, workflow.ErrTaskExists)
	}
	return nil
}

func (t *RedisProgressTracker) UpdateProgress(ctx context.Context, taskID string, percent int, message string) error {
	return t.mutate(ctx, taskID, func(p *workflow.Progress) {
		p.Percent = workflow.ClampPercent(percent)
		p.Message = message
		p.Status = workflow.ProgressInProgress
	})
}

func (t *RedisProgressTracker) GetProgress(ctx context.Context, taskID string) (*workflow.Progress, error) {
	return t.get(ctx, t.client, taskID)
}

func (t *RedisProgressTracker) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	p, err := t.GetProgress(ctx, taskID)
	if err != nil {
		return false, err
	}
	return p.Status == workflow.ProgressCancelled, nil
}

func (t *RedisProgressTracker) CancelTask(ctx context.Context, taskID string) error {
	return t.finish(ctx, taskID, workflow.ProgressCancelled, "cancelled", false)
}

func (t *RedisProgressTracker) Complete(ctx context.Context, taskID, message string) error {
	return t.finish(ctx, taskID, workflow.ProgressCompleted, message, true)
}

func (t *RedisProgressTracker) Fail(ctx context.Context, taskID, message string) error {
	return t.finish(ctx, taskID, workflow.ProgressFailed, message, false)
}

func (t *RedisProgressTracker) finish(ctx context.Context, taskID string, status workflow.ProgressStatus, message string, full bool) error {
	return t.mutate(ctx, taskID, func(p *workflow.Progress) {
		now := time.Now()
		p.Status = status
		p.Message = message
		p.EndTime = &now
		if full {
			p.Percent = 100
		}
	})
}

func (t *RedisProgressTracker) get(ctx context.Context, c getter, taskID string) (*workflow.Progress, error) {
	data, err := c.Get(ctx, t.taskKey(taskID)).Bytes()
	if isNil(err) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	var p workflow.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", taskID, err)
	}
	return &p, nil
}

// mutate applies fn under optimistic locking. Terminal tasks are rejected.
func (t *RedisProgressTracker) mutate(ctx context.Context, taskID string, fn func(p *workflow.Progress)) error {
	key := t.taskKey(taskID)
	txf := func(tx *redis.Tx) error {
		p, err := t.get(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return workflow.ErrTaskTerminal
		}
		fn(p)
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", taskID, err)
		}
		ttl := time.Duration(0)
		if p.Status.IsTerminal() {
			ttl = t.cfg.ttl
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err := t.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update task %s: too much contention", taskID)
}
