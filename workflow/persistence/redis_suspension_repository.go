package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/flowgraph/workflow"
	"github.com/redis/go-redis/v9"
)

// RedisSuspensionRepository is a Redis-based workflow.SuspensionRepository.
// Each suspension is a JSON string keyed by instance id, with a second key
// mapping the message id back to the instance.
type RedisSuspensionRepository struct {
	client redis.UniversalClient
	cfg    redisConfig
}

// NewRedisSuspensionRepository creates a repository on an existing client.
func NewRedisSuspensionRepository(client redis.UniversalClient, opts ...RedisOption) *RedisSuspensionRepository {
	return &RedisSuspensionRepository{client: client, cfg: newRedisConfig(opts)}
}

func (r *RedisSuspensionRepository) instanceKey(instanceID string) string {
	return r.cfg.prefix + "suspension:instance:" + instanceID
}

func (r *RedisSuspensionRepository) messageKey(messageID string) string {
	return r.cfg.prefix + "suspension:message:" + messageID
}

// Save stores data for instanceID, replacing any earlier suspension of that instance.
func (r *RedisSuspensionRepository) Save(ctx context.Context, instanceID string, data *workflow.SuspensionData) error {
	if data == nil {
		return errors.New("suspension data is nil")
	}
	cp := *data
	cp.InstanceID = instanceID
	payload, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal suspension %s: %w", instanceID, err)
	}

	prev, err := r.FindByInstanceID(ctx, instanceID)
	if err != nil && !errors.Is(err, workflow.ErrNotFound) {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != nil && prev.MessageID != cp.MessageID {
			pipe.Del(ctx, r.messageKey(prev.MessageID))
		}
		pipe.Set(ctx, r.instanceKey(instanceID), payload, r.cfg.ttl)
		pipe.Set(ctx, r.messageKey(cp.MessageID), instanceID, r.cfg.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save suspension %s: %w", instanceID, err)
	}
	return nil
}

func (r *RedisSuspensionRepository) FindByInstanceID(ctx context.Context, instanceID string) (*workflow.SuspensionData, error) {
	payload, err := r.client.Get(ctx, r.instanceKey(instanceID)).Bytes()
	if isNil(err) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load suspension %s: %w", instanceID, err)
	}
	var data workflow.SuspensionData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("unmarshal suspension %s: %w", instanceID, err)
	}
	return &data, nil
}

func (r *RedisSuspensionRepository) FindByMessageID(ctx context.Context, messageID string) (*workflow.SuspensionData, error) {
	instanceID, err := r.client.Get(ctx, r.messageKey(messageID)).Result()
	if isNil(err) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve message %s: %w", messageID, err)
	}
	data, err := r.FindByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if data.MessageID != messageID {
		return nil, workflow.ErrNotFound
	}
	return data, nil
}

func (r *RedisSuspensionRepository) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	prev, err := r.FindByInstanceID(ctx, instanceID)
	if errors.Is(err, workflow.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.instanceKey(instanceID), r.messageKey(prev.MessageID)).Err(); err != nil {
		return fmt.Errorf("delete suspension %s: %w", instanceID, err)
	}
	return nil
}
