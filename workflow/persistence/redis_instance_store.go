package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/flowgraph/workflow"
	"github.com/redis/go-redis/v9"
)

var allStatuses = []workflow.InstanceStatus{
	workflow.StatusRunning,
	workflow.StatusSuspended,
	workflow.StatusWaitingAsync,
	workflow.StatusCompleted,
	workflow.StatusFailed,
}

// RedisInstanceStore is a Redis-based implementation of workflow.InstanceStore.
// Records are JSON strings; a sorted set per status, scored by update time,
// serves ListByStatus.
type RedisInstanceStore struct {
	client redis.UniversalClient
	cfg    redisConfig
}

// NewRedisInstanceStore creates a store on an existing client.
func NewRedisInstanceStore(client redis.UniversalClient, opts ...RedisOption) *RedisInstanceStore {
	return &RedisInstanceStore{client: client, cfg: newRedisConfig(opts)}
}

func (s *RedisInstanceStore) dataKey(instanceID string) string {
	return s.cfg.prefix + "instance:data:" + instanceID
}

func (s *RedisInstanceStore) statusKey(status workflow.InstanceStatus) string {
	return s.cfg.prefix + "instance:status:" + string(status)
}

// Save persists rec and moves it to the index of its current status.
// Terminal records expire after the configured TTL.
func (s *RedisInstanceStore) Save(ctx context.Context, rec *workflow.InstanceRecord) error {
	if rec == nil || rec.InstanceID == "" {
		return fmt.Errorf("instance record requires an id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal instance %s: %w", rec.InstanceID, err)
	}

	ttl := s.cfg.ttl
	if !rec.Status.IsTerminal() {
		ttl = 0
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(rec.InstanceID), data, ttl)
		for _, st := range allStatuses {
			if st != rec.Status {
				pipe.ZRem(ctx, s.statusKey(st), rec.InstanceID)
			}
		}
		pipe.ZAdd(ctx, s.statusKey(rec.Status), redis.Z{
			Score:  float64(rec.UpdatedAt.UnixNano()),
			Member: rec.InstanceID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save instance %s: %w", rec.InstanceID, err)
	}
	return nil
}

// Load retrieves a record by id.
func (s *RedisInstanceStore) Load(ctx context.Context, instanceID string) (*workflow.InstanceRecord, error) {
	data, err := s.client.Get(ctx, s.dataKey(instanceID)).Bytes()
	if isNil(err) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	var rec workflow.InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal instance %s: %w", instanceID, err)
	}
	return &rec, nil
}

// Delete removes a record and its index entry.
func (s *RedisInstanceStore) Delete(ctx context.Context, instanceID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.dataKey(instanceID))
		for _, st := range allStatuses {
			pipe.ZRem(ctx, s.statusKey(st), instanceID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", instanceID, err)
	}
	return nil
}

// ListByStatus returns ids oldest update first. Index entries whose record
// expired are pruned on the way.
func (s *RedisInstanceStore) ListByStatus(ctx context.Context, status workflow.InstanceStatus, limit int) ([]string, error) {
	key := s.statusKey(status)
	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list instances by status %s: %w", status, err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	exists := make([]*redis.IntCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, s.dataKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check instances by status %s: %w", status, err)
	}

	out := make([]string, 0, len(ids))
	var stale []any
	for i, id := range ids {
		if exists[i].Val() == 0 {
			stale = append(stale, id)
			continue
		}
		if limit <= 0 || len(out) < limit {
			out = append(out, id)
		}
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, key, stale...).Err()
	}
	return out, nil
}
