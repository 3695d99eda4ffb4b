package workflow

import (
	"time"
)

// InstanceStatus is the lifecycle state of a run.
type InstanceStatus string

const (
	StatusRunning      InstanceStatus = "RUNNING"
	StatusSuspended    InstanceStatus = "SUSPENDED"
	StatusWaitingAsync InstanceStatus = "WAITING_ASYNC"
	StatusCompleted    InstanceStatus = "COMPLETED"
	StatusFailed       InstanceStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change.
func (s InstanceStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsPaused reports whether the run waits for external input.
func (s InstanceStatus) IsPaused() bool {
	return s == StatusSuspended || s == StatusWaitingAsync
}

// Outcome classifies an execution history entry.
type Outcome string

const (
	OutcomeContinue      Outcome = "CONTINUE"
	OutcomeBranch        Outcome = "BRANCH"
	OutcomeFail          Outcome = "FAIL"
	OutcomeFinish        Outcome = "FINISH"
	OutcomeSuspend       Outcome = "SUSPEND"
	OutcomeAsync         Outcome = "ASYNC"
	OutcomeError         Outcome = "ERROR"
	OutcomeSkipped       Outcome = "SKIPPED"
	OutcomeResumed       Outcome = "RESUMED"
	OutcomeAsyncComplete Outcome = "ASYNC_COMPLETE"
)

// ExecutionRecord is one entry of the append-only execution history.
type ExecutionRecord struct {
	Seq       int
	StepID    string
	Timestamp time.Time
	Outcome   Outcome
	// Output is nil when the entry carries no value.
	Output *StepOutput
	// RoutingMarker values drive routing only and are never used as step input.
	RoutingMarker bool
	Attempt       int
	Duration      time.Duration
	Error         string
}

// Instance is one run of a workflow. The engine is its only writer.
type Instance struct {
	ID              string
	WorkflowID      string
	WorkflowVersion string
	Status          InstanceStatus
	CurrentStepID   string
	Context         *Context

	PendingMessageID        string
	PendingTaskID           string
	PendingCompletionStepID string

	Result    any
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time

	history     []ExecutionRecord
	invocations map[string]int
}

// NewInstance creates a RUNNING instance for g started by trigger.
func NewInstance(id string, g *Graph, trigger any) *Instance {
	now := time.Now()
	return &Instance{
		ID:              id,
		WorkflowID:      g.ID(),
		WorkflowVersion: g.Version(),
		Status:          StatusRunning,
		Context:         NewContext(id, trigger),
		CreatedAt:       now,
		UpdatedAt:       now,
		invocations:     make(map[string]int),
	}
}

// History returns a copy of the execution history in order.
func (i *Instance) History() []ExecutionRecord {
	return append([]ExecutionRecord(nil), i.history...)
}

// Invocations returns how often stepID ran in this instance.
func (i *Instance) Invocations(stepID string) int {
	return i.invocations[stepID]
}

func (i *Instance) record(rec ExecutionRecord) ExecutionRecord {
	rec.Seq = len(i.history) + 1
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	i.history = append(i.history, rec)
	i.UpdatedAt = rec.Timestamp
	return rec
}

// recordOutput stores value as stepID's output and appends a history entry for it.
func (i *Instance) recordOutput(stepID string, outcome Outcome, value any, marker bool, attempt int, d time.Duration) {
	rec := ExecutionRecord{
		StepID:        stepID,
		Outcome:       outcome,
		RoutingMarker: marker,
		Attempt:       attempt,
		Duration:      d,
	}
	if marker {
		o := StepOutput{StepID: stepID, Value: value, Type: ValueType(value)}
		rec.Output = &o
	} else {
		o := i.Context.setOutput(stepID, value)
		rec.Output = &o
	}
	if err, ok := value.(error); ok && err != nil {
		rec.Error = err.Error()
	}
	i.record(rec)
}

// lastValue returns the most recent non-marker value in history.
func (i *Instance) lastValue() any {
	for k := len(i.history) - 1; k >= 0; k-- {
		rec := i.history[k]
		if rec.Output != nil && !rec.RoutingMarker {
			return rec.Output.Value
		}
	}
	return i.Context.Trigger()
}
