package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/flowgraph/workflow"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLInstanceStore is a gorm-based workflow.InstanceStore.
type SQLInstanceStore struct {
	db *gorm.DB
}

// NewSQLInstanceStore creates a store on db. The schema is owned by the migrations.
func NewSQLInstanceStore(db *gorm.DB) *SQLInstanceStore {
	return &SQLInstanceStore{db: db}
}

// Save upserts rec.
func (s *SQLInstanceStore) Save(ctx context.Context, rec *workflow.InstanceRecord) error {
	if rec == nil || rec.InstanceID == "" {
		return fmt.Errorf("instance record requires an id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal instance %s: %w", rec.InstanceID, err)
	}
	row := instanceRow{
		InstanceID: rec.InstanceID,
		WorkflowID: rec.WorkflowID,
		Status:     string(rec.Status),
		Data:       string(data),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instance_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"workflow_id", "status", "data", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save instance %s: %w", rec.InstanceID, err)
	}
	return nil
}

func (s *SQLInstanceStore) Load(ctx context.Context, instanceID string) (*workflow.InstanceRecord, error) {
	var row instanceRow
	err := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	var rec workflow.InstanceRecord
	if err := json.Unmarshal([]byte(row.Data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal instance %s: %w", instanceID, err)
	}
	return &rec, nil
}

func (s *SQLInstanceStore) Delete(ctx context.Context, instanceID string) error {
	if err := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).Delete(&instanceRow{}).Error; err != nil {
		return fmt.Errorf("delete instance %s: %w", instanceID, err)
	}
	return nil
}

func (s *SQLInstanceStore) ListByStatus(ctx context.Context, status workflow.InstanceStatus, limit int) ([]string, error) {
	q := s.db.WithContext(ctx).
		Model(&instanceRow{}).
		Where("status = ?", string(status)).
		Order("updated_at ASC").
		Order("instance_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []string
	if err := q.Pluck("instance_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list instances by status %s: %w", status, err)
	}
	return ids, nil
}
