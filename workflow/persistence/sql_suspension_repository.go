package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/flowgraph/workflow"
	"gorm.io/gorm"
)

// SQLSuspensionRepository is a gorm-based workflow.SuspensionRepository.
type SQLSuspensionRepository struct {
	db *gorm.DB
}

// NewSQLSuspensionRepository creates a repository on db.
func NewSQLSuspensionRepository(db *gorm.DB) *SQLSuspensionRepository {
	return &SQLSuspensionRepository{db: db}
}

// Save replaces the suspension of instanceID in one transaction.
func (r *SQLSuspensionRepository) Save(ctx context.Context, instanceID string, data *workflow.SuspensionData) error {
	if data == nil {
		return errors.New("suspension data is nil")
	}
	cp := *data
	cp.InstanceID = instanceID
	payload, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal suspension %s: %w", instanceID, err)
	}
	row := suspensionRow{
		InstanceID: instanceID,
		MessageID:  cp.MessageID,
		WorkflowID: cp.WorkflowID,
		StepID:     cp.StepID,
		Data:       string(payload),
		CreatedAt:  cp.CreatedAt,
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", instanceID).Delete(&suspensionRow{}).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("save suspension %s: %w", instanceID, err)
	}
	return nil
}

func (r *SQLSuspensionRepository) FindByInstanceID(ctx context.Context, instanceID string) (*workflow.SuspensionData, error) {
	return r.find(ctx, "instance_id = ?", instanceID)
}

func (r *SQLSuspensionRepository) FindByMessageID(ctx context.Context, messageID string) (*workflow.SuspensionData, error) {
	return r.find(ctx, "message_id = ?", messageID)
}

func (r *SQLSuspensionRepository) find(ctx context.Context, query string, arg string) (*workflow.SuspensionData, error) {
	var row suspensionRow
	err := r.db.WithContext(ctx).Where(query, arg).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load suspension %s: %w", arg, err)
	}
	var data workflow.SuspensionData
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return nil, fmt.Errorf("unmarshal suspension %s: %w", arg, err)
	}
	return &data, nil
}

func (r *SQLSuspensionRepository) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	if err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).Delete(&suspensionRow{}).Error; err != nil {
		return fmt.Errorf("delete suspension %s: %w", instanceID, err)
	}
	return nil
}
