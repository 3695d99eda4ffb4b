// Package workflowtest holds behavioral suites shared by every persistence
// backend of the workflow engine.
package workflowtest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/BaSui01/flowgraph/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// RunInstanceStoreContract verifies that store round-trips instance records
// and indexes them by status.
func RunInstanceStoreContract(t *testing.T, store workflow.InstanceStore) {
	ctx := context.Background()
	base := uniqueID("contract-instance")

	t.Run("Save and Load", func(t *testing.T) {
		id := base + "-rt"
		now := time.Now().UTC().Truncate(time.Millisecond)
		rec := &workflow.InstanceRecord{
			InstanceID:       id,
			WorkflowID:       "wf",
			WorkflowVersion:  "1.0.0",
			Status:           workflow.StatusSuspended,
			CurrentStepID:    "ask",
			Trigger:          &workflow.EncodedValue{Type: "string", Data: json.RawMessage(`"hi"`)},
			Outputs:          []workflow.OutputRecord{{StepID: "ask", Seq: 1, Value: &workflow.EncodedValue{Type: "int", Data: json.RawMessage(`3`)}}},
			History:          []workflow.HistoryRecord{{Seq: 1, StepID: "ask", Timestamp: now, Outcome: workflow.OutcomeSuspend, RoutingMarker: true}},
			Invocations:      map[string]int{"ask": 1},
			PendingMessageID: "msg-1",
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		require.NoError(t, store.Save(ctx, rec))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, rec.WorkflowID, loaded.WorkflowID)
		assert.Equal(t, rec.Status, loaded.Status)
		assert.Equal(t, rec.PendingMessageID, loaded.PendingMessageID)
		assert.Equal(t, rec.Invocations, loaded.Invocations)
		require.Len(t, loaded.Outputs, 1)
		assert.JSONEq(t, `3`, string(loaded.Outputs[0].Value.Data))
		require.Len(t, loaded.History, 1)
		assert.True(t, loaded.History[0].RoutingMarker)
		assert.True(t, rec.UpdatedAt.Equal(loaded.UpdatedAt))
	})

	t.Run("Save overwrites", func(t *testing.T) {
		id := base + "-ow"
		rec := &workflow.InstanceRecord{InstanceID: id, WorkflowID: "wf", Status: workflow.StatusRunning, UpdatedAt: time.Now()}
		require.NoError(t, store.Save(ctx, rec))
		rec.Status = workflow.StatusCompleted
		rec.Result = &workflow.EncodedValue{Type: "string", Data: json.RawMessage(`"done"`)}
		require.NoError(t, store.Save(ctx, rec))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusCompleted, loaded.Status)
		require.NotNil(t, loaded.Result)

		running, err := store.ListByStatus(ctx, workflow.StatusRunning, 0)
		require.NoError(t, err)
		assert.NotContains(t, running, id)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, base+"-missing")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		id := base + "-del"
		require.NoError(t, store.Save(ctx, &workflow.InstanceRecord{InstanceID: id, WorkflowID: "wf", Status: workflow.StatusFailed, UpdatedAt: time.Now()}))
		require.NoError(t, store.Delete(ctx, id))
		_, err := store.Load(ctx, id)
		assert.ErrorIs(t, err, workflow.ErrNotFound)
		require.NoError(t, store.Delete(ctx, id), "deleting twice is not an error")
	})

	t.Run("ListByStatus", func(t *testing.T) {
		older := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
		newer := older.Add(time.Minute)
		ids := []string{base + "-w2", base + "-w1", base + "-w3"}
		require.NoError(t, store.Save(ctx, &workflow.InstanceRecord{InstanceID: ids[0], WorkflowID: "wf", Status: workflow.StatusWaitingAsync, UpdatedAt: newer}))
		require.NoError(t, store.Save(ctx, &workflow.InstanceRecord{InstanceID: ids[1], WorkflowID: "wf", Status: workflow.StatusWaitingAsync, UpdatedAt: older}))
		require.NoError(t, store.Save(ctx, &workflow.InstanceRecord{InstanceID: ids[2], WorkflowID: "wf", Status: workflow.StatusCompleted, UpdatedAt: older}))
		defer func() {
			for _, id := range ids {
				_ = store.Delete(ctx, id)
			}
		}()

		waiting, err := store.ListByStatus(ctx, workflow.StatusWaitingAsync, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{ids[1], ids[0]}, filter(waiting, ids))

		limited, err := store.ListByStatus(ctx, workflow.StatusWaitingAsync, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

// filter keeps the members of got that belong to want, preserving order.
func filter(got, want []string) []string {
	keep := make(map[string]bool, len(want))
	for _, id := range want {
		keep[id] = true
	}
	var out []string
	for _, id := range got {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}

// RunSuspensionRepositoryContract verifies lookups by instance and message id.
func RunSuspensionRepositoryContract(t *testing.T, repo workflow.SuspensionRepository) {
	ctx := context.Background()
	base := uniqueID("contract-suspension")

	t.Run("Save and Find", func(t *testing.T) {
		instanceID := base + "-a"
		data := &workflow.SuspensionData{
			MessageID:  instanceID + "-msg",
			WorkflowID: "wf",
			StepID:     "ask",
			AnswerType: "string",
			Schema:     `{"type":"string"}`,
			Prompt:     &workflow.EncodedValue{Type: "string", Data: json.RawMessage(`"name?"`)},
			CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, repo.Save(ctx, instanceID, data))

		byInstance, err := repo.FindByInstanceID(ctx, instanceID)
		require.NoError(t, err)
		assert.Equal(t, instanceID, byInstance.InstanceID)
		assert.Equal(t, data.MessageID, byInstance.MessageID)
		assert.Equal(t, data.Schema, byInstance.Schema)
		require.NotNil(t, byInstance.Prompt)
		assert.JSONEq(t, `"name?"`, string(byInstance.Prompt.Data))

		byMessage, err := repo.FindByMessageID(ctx, data.MessageID)
		require.NoError(t, err)
		assert.Equal(t, instanceID, byMessage.InstanceID)
		assert.Equal(t, "ask", byMessage.StepID)
	})

	t.Run("Save replaces earlier suspension", func(t *testing.T) {
		instanceID := base + "-b"
		require.NoError(t, repo.Save(ctx, instanceID, &workflow.SuspensionData{MessageID: instanceID + "-m1", StepID: "one"}))
		require.NoError(t, repo.Save(ctx, instanceID, &workflow.SuspensionData{MessageID: instanceID + "-m2", StepID: "two"}))

		_, err := repo.FindByMessageID(ctx, instanceID+"-m1")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
		got, err := repo.FindByInstanceID(ctx, instanceID)
		require.NoError(t, err)
		assert.Equal(t, "two", got.StepID)
	})

	t.Run("Delete", func(t *testing.T) {
		instanceID := base + "-c"
		require.NoError(t, repo.Save(ctx, instanceID, &workflow.SuspensionData{MessageID: instanceID + "-msg"}))
		require.NoError(t, repo.DeleteByInstanceID(ctx, instanceID))

		_, err := repo.FindByInstanceID(ctx, instanceID)
		assert.ErrorIs(t, err, workflow.ErrNotFound)
		_, err = repo.FindByMessageID(ctx, instanceID+"-msg")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
		require.NoError(t, repo.DeleteByInstanceID(ctx, instanceID))
	})

	t.Run("Find Non-Existent", func(t *testing.T) {
		_, err := repo.FindByInstanceID(ctx, base+"-missing")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
		_, err = repo.FindByMessageID(ctx, base+"-missing")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	})
}

// RunProgressTrackerContract verifies the task lifecycle of tracker.
func RunProgressTrackerContract(t *testing.T, tracker workflow.ProgressTracker) {
	ctx := context.Background()

	t.Run("Lifecycle", func(t *testing.T) {
		taskID := tracker.GenerateTaskID()
		require.NotEmpty(t, taskID)
		require.NoError(t, tracker.Begin(ctx, taskID, "inst", "step", "queued"))

		p, err := tracker.GetProgress(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, workflow.ProgressPending, p.Status)
		assert.Equal(t, "inst", p.InstanceID)
		assert.Equal(t, "step", p.StepID)
		assert.Nil(t, p.EndTime)

		require.NoError(t, tracker.UpdateProgress(ctx, taskID, 140, "almost"))
		p, err = tracker.GetProgress(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, workflow.ProgressInProgress, p.Status)
		assert.Equal(t, 100, p.Percent)
		assert.Equal(t, "almost", p.Message)

		require.NoError(t, tracker.Complete(ctx, taskID, "done"))
		p, err = tracker.GetProgress(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, workflow.ProgressCompleted, p.Status)
		assert.Equal(t, 100, p.Percent)
		require.NotNil(t, p.EndTime)
	})

	t.Run("Terminal states are final", func(t *testing.T) {
		taskID := tracker.GenerateTaskID()
		require.NoError(t, tracker.Begin(ctx, taskID, "inst", "step", ""))
		require.NoError(t, tracker.Fail(ctx, taskID, "broken"))

		assert.ErrorIs(t, tracker.UpdateProgress(ctx, taskID, 10, "late"), workflow.ErrTaskTerminal)
		assert.ErrorIs(t, tracker.Complete(ctx, taskID, "late"), workflow.ErrTaskTerminal)
		assert.ErrorIs(t, tracker.CancelTask(ctx, taskID), workflow.ErrTaskTerminal)

		p, err := tracker.GetProgress(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, workflow.ProgressFailed, p.Status)
		assert.Equal(t, "broken", p.Message)
	})

	t.Run("Begin rejects a known task id", func(t *testing.T) {
		taskID := tracker.GenerateTaskID()
		require.NoError(t, tracker.Begin(ctx, taskID, "inst", "step", ""))
		require.NoError(t, tracker.Complete(ctx, taskID, "done"))

		err := tracker.Begin(ctx, taskID, "other", "step", "again")
		assert.ErrorIs(t, err, workflow.ErrTaskExists)

		p, err := tracker.GetProgress(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, workflow.ProgressCompleted, p.Status)
		assert.Equal(t, "inst", p.InstanceID)
	})

	t.Run("Cancel", func(t *testing.T) {
		taskID := tracker.GenerateTaskID()
		require.NoError(t, tracker.Begin(ctx, taskID, "inst", "step", ""))
		cancelled, err := tracker.IsCancelled(ctx, taskID)
		require.NoError(t, err)
		assert.False(t, cancelled)

		require.NoError(t, tracker.CancelTask(ctx, taskID))
		cancelled, err = tracker.IsCancelled(ctx, taskID)
		require.NoError(t, err)
		assert.True(t, cancelled)
	})

	t.Run("Unknown task", func(t *testing.T) {
		_, err := tracker.GetProgress(ctx, "task-unknown")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
		assert.ErrorIs(t, tracker.UpdateProgress(ctx, "task-unknown", 1, ""), workflow.ErrNotFound)
		assert.ErrorIs(t, tracker.CancelTask(ctx, "task-unknown"), workflow.ErrNotFound)
	})
}
