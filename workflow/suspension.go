package workflow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by stores when a key does not exist.
var ErrNotFound = errors.New("not found")

// SuspensionData is the minimal state needed to resume a paused run.
type SuspensionData struct {
	InstanceID string        `json:"instance_id"`
	MessageID  string        `json:"message_id"`
	WorkflowID string        `json:"workflow_id"`
	StepID     string        `json:"step_id"`
	AnswerType string        `json:"answer_type"`
	Schema     string        `json:"schema,omitempty"`
	Prompt     *EncodedValue `json:"prompt,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SuspensionRepository stores SuspensionData indexed by instance and message id.
// A saved record must be visible to both lookups immediately.
type SuspensionRepository interface {
	Save(ctx context.Context, instanceID string, data *SuspensionData) error
	FindByInstanceID(ctx context.Context, instanceID string) (*SuspensionData, error)
	FindByMessageID(ctx context.Context, messageID string) (*SuspensionData, error)
	DeleteByInstanceID(ctx context.Context, instanceID string) error
}

// MemorySuspensionRepository is the in-process SuspensionRepository.
type MemorySuspensionRepository struct {
	mu         sync.RWMutex
	byInstance map[string]*SuspensionData
	byMessage  map[string]string
}

// NewMemorySuspensionRepository creates an empty repository.
func NewMemorySuspensionRepository() *MemorySuspensionRepository {
	return &MemorySuspensionRepository{
		byInstance: make(map[string]*SuspensionData),
		byMessage:  make(map[string]string),
	}
}

// Save stores data for instanceID, replacing any earlier suspension of that instance.
func (r *MemorySuspensionRepository) Save(_ context.Context, instanceID string, data *SuspensionData) error {
	if data == nil {
		return errors.New("suspension data is nil")
	}
	cp := *data
	cp.InstanceID = instanceID

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byInstance[instanceID]; ok {
		delete(r.byMessage, prev.MessageID)
	}
	r.byInstance[instanceID] = &cp
	r.byMessage[cp.MessageID] = instanceID
	return nil
}

func (r *MemorySuspensionRepository) FindByInstanceID(_ context.Context, instanceID string) (*SuspensionData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.byInstance[instanceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *data
	return &cp, nil
}

func (r *MemorySuspensionRepository) FindByMessageID(ctx context.Context, messageID string) (*SuspensionData, error) {
	r.mu.RLock()
	instanceID, ok := r.byMessage[messageID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.FindByInstanceID(ctx, instanceID)
}

func (r *MemorySuspensionRepository) DeleteByInstanceID(_ context.Context, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byInstance[instanceID]; ok {
		delete(r.byMessage, prev.MessageID)
		delete(r.byInstance, instanceID)
	}
	return nil
}
