package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// InstanceStore persists instances by id. Implementations must round-trip
// the record exactly.
type InstanceStore interface {
	Save(ctx context.Context, rec *InstanceRecord) error
	Load(ctx context.Context, instanceID string) (*InstanceRecord, error)
	Delete(ctx context.Context, instanceID string) error
	// ListByStatus returns instance ids with the status, oldest update first.
	ListByStatus(ctx context.Context, status InstanceStatus, limit int) ([]string, error)
}

// MemoryInstanceStore keeps JSON copies of records in process.
type MemoryInstanceStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	status  map[string]*InstanceRecord
}

// NewMemoryInstanceStore creates an empty store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{
		records: make(map[string][]byte),
		status:  make(map[string]*InstanceRecord),
	}
}

func (s *MemoryInstanceStore) Save(_ context.Context, rec *InstanceRecord) error {
	if rec == nil || rec.InstanceID == "" {
		return fmt.Errorf("instance record requires an id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal instance %s: %w", rec.InstanceID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.InstanceID] = data
	s.status[rec.InstanceID] = &InstanceRecord{
		InstanceID: rec.InstanceID,
		Status:     rec.Status,
		UpdatedAt:  rec.UpdatedAt,
	}
	return nil
}

func (s *MemoryInstanceStore) Load(_ context.Context, instanceID string) (*InstanceRecord, error) {
	s.mu.RLock()
	data, ok := s.records[instanceID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var rec InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal instance %s: %w", instanceID, err)
	}
	return &rec, nil
}

func (s *MemoryInstanceStore) Delete(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, instanceID)
	delete(s.status, instanceID)
	return nil
}

func (s *MemoryInstanceStore) ListByStatus(_ context.Context, status InstanceStatus, limit int) ([]string, error) {
	s.mu.RLock()
	var matches []*InstanceRecord
	for _, r := range s.status {
		if r.Status == status {
			matches = append(matches, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].InstanceID < matches[j].InstanceID
		}
		return matches[i].UpdatedAt.Before(matches[j].UpdatedAt)
	})
	ids := make([]string, 0, len(matches))
	for _, r := range matches {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, r.InstanceID)
	}
	return ids, nil
}
