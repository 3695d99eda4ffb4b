package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/flowgraph/workflow"
	"github.com/BaSui01/flowgraph/workflow/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.runsTotal)
	assert.NotNil(t, collector.stepsTotal)
	assert.NotNil(t, collector.retryEvents)
	assert.NotNil(t, collector.logger)
}

func TestCollector_StepEvents(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())
	ctx := context.Background()

	ev := workflow.StepEvent{WorkflowID: "wf", StepID: "ask", Duration: 20 * time.Millisecond}
	c.OnStepStarted(ctx, ev)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsInFlight.WithLabelValues("wf")))

	ev.Result = workflow.SuspendFor[string]("name?")
	c.OnStepCompleted(ctx, ev)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.stepsInFlight.WithLabelValues("wf")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("wf", "ask", "SUSPEND")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.suspensions.WithLabelValues("wf", "ask")))

	c.OnStepStarted(ctx, ev)
	ev.Result = workflow.Async{}
	c.OnStepCompleted(ctx, ev)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.asyncTasks.WithLabelValues("wf", "ask")))

	c.OnStepStarted(ctx, ev)
	c.OnStepFailed(ctx, workflow.StepEvent{WorkflowID: "wf", StepID: "ask", Err: errors.New("boom")})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("wf", "ask", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.stepsInFlight.WithLabelValues("wf")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.stepsTotal))
}

func TestCollector_RunEvents(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.OnRunFinished(context.Background(), workflow.RunEvent{WorkflowID: "wf", Status: workflow.StatusCompleted, Duration: time.Second})
	c.OnRunFinished(context.Background(), workflow.RunEvent{WorkflowID: "wf", Status: workflow.StatusCompleted})
	c.OnRunFinished(context.Background(), workflow.RunEvent{WorkflowID: "wf", Status: workflow.StatusFailed})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("wf", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("wf", "FAILED")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.runDuration))
}

func TestCollector_RetryEvents(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())
	ctx := context.Background()

	c.BeforeRetry(ctx, retry.Attempt{Name: "fetch", Attempt: 1})
	c.OnRetry(ctx, retry.Attempt{Name: "fetch", Attempt: 2})
	c.OnRetrySuccess(ctx, retry.Attempt{Name: "fetch", Attempt: 2})
	c.OnRetryExhausted(ctx, retry.Attempt{Attempt: 3, Err: errors.New("down")})
	c.OnRetryAborted(ctx, retry.Attempt{Name: "fetch"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryEvents.WithLabelValues("fetch", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryEvents.WithLabelValues("fetch", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryEvents.WithLabelValues("unknown", "exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryEvents.WithLabelValues("fetch", "aborted")))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordDBConnections("postgres", 10, 5)
	assert.Equal(t, 10.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("postgres")))

	c.RecordDBConnections("postgres", 3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
}

func TestCollector_AttachedToEngine(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())
	e, err := workflow.NewEngine(zap.NewNop(),
		workflow.WithStepListener(c),
		workflow.WithRunListener(c),
		workflow.WithRetryListener(c),
	)
	require.NoError(t, err)
	defer e.Close(context.Background())

	var calls atomic.Int32
	flaky := workflow.NewStep[string, string](func(_ context.Context, s string, _ workflow.ContextReader) (workflow.StepResult, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return workflow.FinishWith(s), nil
	})
	g, err := workflow.NewGraphBuilder("echo").
		Step("echo", flaky, workflow.AsInitial(), workflow.WithRetry(&retry.Policy{MaxAttempts: 3})).
		Build()
	require.NoError(t, err)
	require.NoError(t, e.Register(g))

	res, err := e.Start(context.Background(), "echo", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Result)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("echo", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("echo", "echo", "FINISH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryEvents.WithLabelValues("echo", "success")))
}

func TestCollector_WatchWorkers(t *testing.T) {
	ns := nextTestNamespace()
	collector := NewCollector(ns, nil)

	var queued atomic.Int64
	collector.WatchWorkers(func() workflow.WorkerStats {
		return workflow.WorkerStats{Workers: 2, Active: 1, Queued: int(queued.Load()), Rejected: 3}
	})
	queued.Store(7)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, values[ns+"_async_workers"])
	assert.Equal(t, 1.0, values[ns+"_async_workers_active"])
	assert.Equal(t, 7.0, values[ns+"_async_queue_depth"])
	assert.Equal(t, 3.0, values[ns+"_async_rejected_total"])
}
