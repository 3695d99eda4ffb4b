package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/BaSui01/flowgraph/types"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// suspend pauses inst at node and records what Resume needs.
func (e *Engine) suspend(ctx context.Context, inst *Instance, node *StepNode, s Suspend, attempts int, d time.Duration, seg *segment) {
	messageID := s.MessageID
	if messageID == "" {
		messageID = "msg-" + uuid.NewString()
	}
	prompt, err := e.registry.Encode(s.Prompt)
	if err != nil {
		e.fail(inst, fmt.Errorf("encode suspension prompt: %w", err), seg)
		return
	}
	if s.Schema != "" {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s.Schema)); err != nil {
			e.fail(inst, types.NewError(types.ErrSuspensionInvalid, "invalid answer schema").
				WithStep(node.ID()).WithCause(err), seg)
			return
		}
	}

	inst.recordOutput(node.ID(), OutcomeSuspend, s.Prompt, true, attempts, d)
	inst.Status = StatusSuspended
	inst.PendingMessageID = messageID
	seg.prompt = s.Prompt

	// the instance must be durable before the suspension becomes resumable
	if err := e.save(ctx, inst); err != nil {
		e.fail(inst, err, seg)
		return
	}
	data := &SuspensionData{
		InstanceID: inst.ID,
		MessageID:  messageID,
		WorkflowID: inst.WorkflowID,
		StepID:     node.ID(),
		AnswerType: e.registry.Register(s.AnswerType),
		Schema:     s.Schema,
		Prompt:     prompt,
		CreatedAt:  time.Now(),
	}
	if err := e.suspensions.Save(ctx, inst.ID, data); err != nil {
		e.fail(inst, fmt.Errorf("save suspension: %w", err), seg)
		return
	}
	e.logger.Info("workflow suspended",
		zap.String("instance_id", inst.ID),
		zap.String("step_id", node.ID()),
		zap.String("message_id", messageID),
	)
}

// Suspension returns the pending suspension of an instance.
func (e *Engine) Suspension(ctx context.Context, instanceID string) (*SuspensionData, error) {
	data, err := e.suspensions.FindByInstanceID(ctx, instanceID)
	if errors.Is(err, ErrNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "instance %s is not suspended", instanceID).WithCause(err)
	}
	return data, err
}

// Resume delivers answer to the run suspended under messageID. The answer must
// satisfy the suspended step's answer type and schema; otherwise the run stays
// suspended and a SUSPENSION_MISMATCH error is returned. The step after the
// paused one receives the answer as its input.
func (e *Engine) Resume(ctx context.Context, messageID string, answer any) (*RunResult, error) {
	if e.closed.Load() {
		return nil, types.NewError(types.ErrInstanceState, "engine is closed")
	}
	data, err := e.suspensions.FindByMessageID(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, types.Errorf(types.ErrNotFound, "no suspension for message %s", messageID).WithCause(err)
		}
		return nil, fmt.Errorf("find suspension %s: %w", messageID, err)
	}

	var res *RunResult
	err = e.locks.withLock(ctx, data.InstanceID, func(ctx context.Context) error {
		inst, g, err := e.load(ctx, data.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status != StatusSuspended || inst.PendingMessageID != messageID {
			return types.Errorf(types.ErrInstanceState, "instance %s is %s, not suspended on %s",
				inst.ID, inst.Status, messageID)
		}
		node, ok := g.Node(data.StepID)
		if !ok {
			return types.Errorf(types.ErrGraphInvalid, "suspended step %s no longer exists", data.StepID)
		}

		expected, ok := e.registry.ResolveType(data.AnswerType)
		if !ok {
			return types.Errorf(types.ErrCodec, "answer type %s is not registered", data.AnswerType)
		}
		value, err := decodeAnswer(answer, expected, data.Schema)
		if err != nil {
			e.logger.Warn("resumption answer rejected",
				zap.String("instance_id", inst.ID),
				zap.String("message_id", messageID),
				zap.Error(err),
			)
			if te, ok := types.AsError(err); ok {
				te.WithStep(node.ID())
			}
			return err
		}

		inst.Status = StatusRunning
		inst.PendingMessageID = ""
		inst.recordOutput(node.ID(), OutcomeResumed, value, false, 0, 0)
		inst.Context.SetUserInput(value, expected)
		if err := e.save(ctx, inst); err != nil {
			return err
		}
		// A leftover record is harmless: its message id no longer matches the instance.
		if err := e.suspensions.DeleteByInstanceID(ctx, inst.ID); err != nil {
			e.logger.Warn("failed to delete suspension",
				zap.String("instance_id", inst.ID),
				zap.String("message_id", messageID),
				zap.Error(err),
			)
		}
		e.logger.Info("workflow resumed",
			zap.String("instance_id", inst.ID),
			zap.String("step_id", node.ID()),
			zap.String("message_id", messageID),
		)

		next, _, routeErr := e.router.FindNextStep(g, node.ID(), value)
		if routeErr != nil {
			seg := &segment{start: time.Now()}
			if next = e.onFail(g, inst, node, routeErr, 0, 0, seg); next == nil {
				if err := e.save(ctx, inst); err != nil {
					return err
				}
				e.finishSegment(ctx, inst, seg)
				res = e.result(inst, seg)
				return seg.err
			}
		}
		res, err = e.drive(ctx, g, inst, next)
		return err
	})
	return res, err
}

// decodeAnswer validates answer against schema and converts it to expected.
// Raw JSON ([]byte, json.RawMessage, or a JSON string for non-string types) is decoded.
func decodeAnswer(answer any, expected reflect.Type, schema string) (any, error) {
	raw := rawAnswer(answer, expected)

	if schema != "" {
		doc := raw
		if doc == nil {
			b, err := json.Marshal(answer)
			if err != nil {
				return nil, mismatch("answer is not JSON encodable", err)
			}
			doc = b
		}
		result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(doc))
		if err != nil {
			return nil, mismatch("answer schema validation failed", err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, re := range result.Errors() {
				msgs = append(msgs, re.String())
			}
			return nil, mismatch("answer does not match schema: "+strings.Join(msgs, "; "), nil)
		}
	}

	if raw != nil {
		if IsObjectType(expected) {
			var generic any
			if err := json.Unmarshal(raw, &generic); err != nil {
				return nil, mismatch("answer is not valid JSON", err)
			}
			return generic, nil
		}
		p := reflect.New(expected)
		if err := json.Unmarshal(raw, p.Interface()); err != nil {
			return nil, mismatch(fmt.Sprintf("answer does not decode into %s", TypeName(expected)), err)
		}
		return p.Elem().Interface(), nil
	}

	v, ok := Coerce(answer, expected)
	if !ok {
		return nil, mismatch(fmt.Sprintf("answer of type %s is not compatible with %s",
			TypeName(ValueType(answer)), TypeName(expected)), nil)
	}
	return v, nil
}

func rawAnswer(answer any, expected reflect.Type) []byte {
	switch v := answer.(type) {
	case json.RawMessage:
		if expected == TypeOf[json.RawMessage]() {
			return nil
		}
		return v
	case []byte:
		if expected == TypeOf[[]byte]() {
			return nil
		}
		return v
	case string:
		if expected != nil && expected.Kind() == reflect.String {
			return nil
		}
		if IsObjectType(expected) || !json.Valid([]byte(v)) {
			return nil
		}
		return []byte(v)
	}
	return nil
}

func mismatch(msg string, cause error) *types.Error {
	err := types.NewError(types.ErrSuspensionInvalid, msg)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}
