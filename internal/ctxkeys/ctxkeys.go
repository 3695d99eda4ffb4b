package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey    contextKey = "trace_id"
	instanceIDKey contextKey = "instance_id"
	workflowIDKey contextKey = "workflow_id"
	stepIDKey     contextKey = "step_id"
	taskIDKey     contextKey = "task_id"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return lookup(ctx, traceIDKey)
}

// WithInstanceID 设置工作流实例 ID
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, instanceIDKey, instanceID)
}

// InstanceID 获取工作流实例 ID
func InstanceID(ctx context.Context) (string, bool) {
	return lookup(ctx, instanceIDKey)
}

// WithWorkflowID 设置工作流 ID
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, workflowIDKey, workflowID)
}

// WorkflowID 获取工作流 ID
func WorkflowID(ctx context.Context) (string, bool) {
	return lookup(ctx, workflowIDKey)
}

// WithStepID 设置当前步骤 ID
func WithStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, stepIDKey, stepID)
}

// StepID 获取当前步骤 ID
func StepID(ctx context.Context) (string, bool) {
	return lookup(ctx, stepIDKey)
}

// WithTaskID 设置异步任务 ID
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskID 获取异步任务 ID
func TaskID(ctx context.Context) (string, bool) {
	return lookup(ctx, taskIDKey)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
