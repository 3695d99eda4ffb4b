package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/flowgraph/workflow"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var activeStatuses = []string{
	string(workflow.ProgressPending),
	string(workflow.ProgressInProgress),
}

// SQLProgressTracker is a gorm-based workflow.ProgressTracker. Every update is
// a conditional UPDATE restricted to non-terminal rows.
type SQLProgressTracker struct {
	db *gorm.DB
}

// NewSQLProgressTracker creates a tracker on db.
func NewSQLProgressTracker(db *gorm.DB) *SQLProgressTracker {
	return &SQLProgressTracker{db: db}
}

func (t *SQLProgressTracker) GenerateTaskID() string { return workflow.NewTaskID() }

func (t *SQLProgressTracker) Begin(ctx context.Context, taskID, instanceID, stepID, message string) error {
	row := progressRow{
		TaskID:     taskID,
		InstanceID: instanceID,
		StepID:     stepID,
		Message:    message,
		Status:     string(workflow.ProgressPending),
		StartTime:  time.Now(),
	}
	res := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("begin task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("begin task %s: %w", taskID, workflow.ErrTaskExists)
	}
	return nil
}

func (t *SQLProgressTracker) UpdateProgress(ctx context.Context, taskID string, percent int, message string) error {
	return t.update(ctx, taskID, map[string]any{
		"percent": workflow.ClampPercent(percent),
		"message": message,
		"status":  string(workflow.ProgressInProgress),
	})
}

func (t *SQLProgressTracker) GetProgress(ctx context.Context, taskID string) (*workflow.Progress, error) {
	var row progressRow
	err := t.db.WithContext(ctx).Where("task_id = ?", taskID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	return &workflow.Progress{
		TaskID:     row.TaskID,
		InstanceID: row.InstanceID,
		StepID:     row.StepID,
		Percent:    row.Percent,
		Message:    row.Message,
		Status:     workflow.ProgressStatus(row.Status),
		StartTime:  row.StartTime,
		EndTime:    row.EndTime,
	}, nil
}

func (t *SQLProgressTracker) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	p, err := t.GetProgress(ctx, taskID)
	if err != nil {
		return false, err
	}
	return p.Status == workflow.ProgressCancelled, nil
}

func (t *SQLProgressTracker) CancelTask(ctx context.Context, taskID string) error {
	return t.finish(ctx, taskID, workflow.ProgressCancelled, "cancelled", false)
}

func (t *SQLProgressTracker) Complete(ctx context.Context, taskID, message string) error {
	return t.finish(ctx, taskID, workflow.ProgressCompleted, message, true)
}

func (t *SQLProgressTracker) Fail(ctx context.Context, taskID, message string) error {
	return t.finish(ctx, taskID, workflow.ProgressFailed, message, false)
}

func (t *SQLProgressTracker) finish(ctx context.Context, taskID string, status workflow.ProgressStatus, message string, full bool) error {
	values := map[string]any{
		"status":   string(status),
		"message":  message,
		"end_time": time.Now(),
	}
	if full {
		values["percent"] = 100
	}
	return t.update(ctx, taskID, values)
}

// update writes values when the task is still active and tells a missing task
// apart from a terminal one.
func (t *SQLProgressTracker) update(ctx context.Context, taskID string, values map[string]any) error {
	res := t.db.WithContext(ctx).
		Model(&progressRow{}).
		Where("task_id = ? AND status IN ?", taskID, activeStatuses).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// zero rows also means an unchanged row on drivers reporting changed rows only
	p, err := t.GetProgress(ctx, taskID)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		return workflow.ErrTaskTerminal
	}
	return nil
}
