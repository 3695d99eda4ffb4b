package persistence

import (
	"time"
)

// instanceRow maps workflow_instances. The full record lives in Data.
type instanceRow struct {
	InstanceID string    `gorm:"column:instance_id;primaryKey;size:64"`
	WorkflowID string    `gorm:"column:workflow_id;size:128;index"`
	Status     string    `gorm:"column:status;size:32;index:idx_workflow_instances_status_updated,priority:1"`
	Data       string    `gorm:"column:data;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime:false;index:idx_workflow_instances_status_updated,priority:2"`
}

func (instanceRow) TableName() string { return "workflow_instances" }

// suspensionRow maps workflow_suspensions.
type suspensionRow struct {
	InstanceID string    `gorm:"column:instance_id;primaryKey;size:64"`
	MessageID  string    `gorm:"column:message_id;size:128;uniqueIndex"`
	WorkflowID string    `gorm:"column:workflow_id;size:128"`
	StepID     string    `gorm:"column:step_id;size:128"`
	Data       string    `gorm:"column:data;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (suspensionRow) TableName() string { return "workflow_suspensions" }

// progressRow maps workflow_task_progress.
type progressRow struct {
	TaskID     string     `gorm:"column:task_id;primaryKey;size:64"`
	InstanceID string     `gorm:"column:instance_id;size:64;index"`
	StepID     string     `gorm:"column:step_id;size:128"`
	Percent    int        `gorm:"column:percent"`
	Message    string     `gorm:"column:message;type:text"`
	Status     string     `gorm:"column:status;size:32;index"`
	StartTime  time.Time  `gorm:"column:start_time"`
	EndTime    *time.Time `gorm:"column:end_time"`
}

func (progressRow) TableName() string { return "workflow_task_progress" }

// Models lists the gorm models of every SQL backend, for AutoMigrate in tests and tools.
func Models() []any {
	return []any{&instanceRow{}, &suspensionRow{}, &progressRow{}}
}
