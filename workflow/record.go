package workflow

import (
	"fmt"
	"time"
)

// InstanceRecord is the serialized form of an Instance used by InstanceStore.
type InstanceRecord struct {
	InstanceID              string          `json:"instance_id"`
	WorkflowID              string          `json:"workflow_id"`
	WorkflowVersion         string          `json:"workflow_version,omitempty"`
	Status                  InstanceStatus  `json:"status"`
	CurrentStepID           string          `json:"current_step_id,omitempty"`
	Trigger                 *EncodedValue   `json:"trigger,omitempty"`
	Outputs                 []OutputRecord  `json:"outputs,omitempty"`
	UserInput               *EncodedValue   `json:"user_input,omitempty"`
	UserInputType           string          `json:"user_input_type,omitempty"`
	HasUserInput            bool            `json:"has_user_input,omitempty"`
	History                 []HistoryRecord `json:"history,omitempty"`
	Invocations             map[string]int  `json:"invocations,omitempty"`
	PendingMessageID        string          `json:"pending_message_id,omitempty"`
	PendingTaskID           string          `json:"pending_task_id,omitempty"`
	PendingCompletionStepID string          `json:"pending_completion_step_id,omitempty"`
	Result                  *EncodedValue   `json:"result,omitempty"`
	Error                   string          `json:"error,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// OutputRecord is a persisted context output.
type OutputRecord struct {
	StepID string        `json:"step_id"`
	Seq    int           `json:"seq"`
	Value  *EncodedValue `json:"value,omitempty"`
}

// HistoryRecord is a persisted ExecutionRecord.
type HistoryRecord struct {
	Seq           int           `json:"seq"`
	StepID        string        `json:"step_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Outcome       Outcome       `json:"outcome"`
	HasOutput     bool          `json:"has_output,omitempty"`
	Output        *EncodedValue `json:"output,omitempty"`
	RoutingMarker bool          `json:"routing_marker,omitempty"`
	Attempt       int           `json:"attempt,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// EncodeInstance converts inst to its persisted form.
func EncodeInstance(reg *TypeRegistry, inst *Instance) (*InstanceRecord, error) {
	rec := &InstanceRecord{
		InstanceID:              inst.ID,
		WorkflowID:              inst.WorkflowID,
		WorkflowVersion:         inst.WorkflowVersion,
		Status:                  inst.Status,
		CurrentStepID:           inst.CurrentStepID,
		PendingMessageID:        inst.PendingMessageID,
		PendingTaskID:           inst.PendingTaskID,
		PendingCompletionStepID: inst.PendingCompletionStepID,
		Error:                   inst.Error,
		CreatedAt:               inst.CreatedAt,
		UpdatedAt:               inst.UpdatedAt,
		Invocations:             make(map[string]int, len(inst.invocations)),
	}
	for k, v := range inst.invocations {
		rec.Invocations[k] = v
	}

	var err error
	wctx := inst.Context
	if rec.Trigger, err = reg.Encode(wctx.trigger); err != nil {
		return nil, fmt.Errorf("encode trigger: %w", err)
	}
	if rec.Result, err = reg.Encode(inst.Result); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if wctx.hasUserInput {
		rec.HasUserInput = true
		if rec.UserInput, err = reg.Encode(wctx.userInput); err != nil {
			return nil, fmt.Errorf("encode user input: %w", err)
		}
		if wctx.userInputType != nil {
			rec.UserInputType = reg.Register(wctx.userInputType)
		}
	}
	for _, o := range wctx.recentOutputs() {
		ev, err := reg.Encode(o.Value)
		if err != nil {
			return nil, fmt.Errorf("encode output of %s: %w", o.StepID, err)
		}
		rec.Outputs = append(rec.Outputs, OutputRecord{StepID: o.StepID, Seq: o.seq, Value: ev})
	}
	for _, h := range inst.history {
		hr := HistoryRecord{
			Seq:           h.Seq,
			StepID:        h.StepID,
			Timestamp:     h.Timestamp,
			Outcome:       h.Outcome,
			RoutingMarker: h.RoutingMarker,
			Attempt:       h.Attempt,
			Duration:      h.Duration,
			Error:         h.Error,
		}
		if h.Output != nil {
			hr.HasOutput = true
			if hr.Output, err = reg.Encode(h.Output.Value); err != nil {
				return nil, fmt.Errorf("encode history entry %d: %w", h.Seq, err)
			}
		}
		rec.History = append(rec.History, hr)
	}
	return rec, nil
}

// DecodeInstance restores an Instance from its persisted form.
func DecodeInstance(reg *TypeRegistry, rec *InstanceRecord) (*Instance, error) {
	trigger, err := reg.Decode(rec.Trigger)
	if err != nil {
		return nil, fmt.Errorf("decode trigger: %w", err)
	}
	result, err := reg.Decode(rec.Result)
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	inst := &Instance{
		ID:                      rec.InstanceID,
		WorkflowID:              rec.WorkflowID,
		WorkflowVersion:         rec.WorkflowVersion,
		Status:                  rec.Status,
		CurrentStepID:           rec.CurrentStepID,
		Context:                 NewContext(rec.InstanceID, trigger),
		PendingMessageID:        rec.PendingMessageID,
		PendingTaskID:           rec.PendingTaskID,
		PendingCompletionStepID: rec.PendingCompletionStepID,
		Result:                  result,
		Error:                   rec.Error,
		CreatedAt:               rec.CreatedAt,
		UpdatedAt:               rec.UpdatedAt,
		invocations:             make(map[string]int, len(rec.Invocations)),
	}
	for k, v := range rec.Invocations {
		inst.invocations[k] = v
	}

	for _, o := range rec.Outputs {
		v, err := reg.Decode(o.Value)
		if err != nil {
			return nil, fmt.Errorf("decode output of %s: %w", o.StepID, err)
		}
		inst.Context.outputs[o.StepID] = StepOutput{StepID: o.StepID, Value: v, Type: ValueType(v), seq: o.Seq}
		if o.Seq > inst.Context.seq {
			inst.Context.seq = o.Seq
		}
	}
	if rec.HasUserInput {
		v, err := reg.Decode(rec.UserInput)
		if err != nil {
			return nil, fmt.Errorf("decode user input: %w", err)
		}
		declared, _ := reg.ResolveType(rec.UserInputType)
		inst.Context.SetUserInput(v, declared)
	}
	for _, h := range rec.History {
		er := ExecutionRecord{
			Seq:           h.Seq,
			StepID:        h.StepID,
			Timestamp:     h.Timestamp,
			Outcome:       h.Outcome,
			RoutingMarker: h.RoutingMarker,
			Attempt:       h.Attempt,
			Duration:      h.Duration,
			Error:         h.Error,
		}
		if h.HasOutput {
			v, err := reg.Decode(h.Output)
			if err != nil {
				return nil, fmt.Errorf("decode history entry %d: %w", h.Seq, err)
			}
			er.Output = &StepOutput{StepID: h.StepID, Value: v, Type: ValueType(v)}
		}
		inst.history = append(inst.history, er)
	}
	return inst, nil
}
