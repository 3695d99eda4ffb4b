package workflow_test

import (
	"testing"

	"github.com/BaSui01/flowgraph/workflow"
	"github.com/BaSui01/flowgraph/workflow/workflowtest"
)

func TestMemoryInstanceStore_Contract(t *testing.T) {
	t.Parallel()
	workflowtest.RunInstanceStoreContract(t, workflow.NewMemoryInstanceStore())
}

func TestMemorySuspensionRepository_Contract(t *testing.T) {
	t.Parallel()
	workflowtest.RunSuspensionRepositoryContract(t, workflow.NewMemorySuspensionRepository())
}

func TestMemoryProgressTracker_Contract(t *testing.T) {
	t.Parallel()
	workflowtest.RunProgressTrackerContract(t, workflow.NewMemoryProgressTracker())
}
