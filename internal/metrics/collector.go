// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"

	"github.com/BaSui01/flowgraph/internal/ctxkeys"
	"github.com/BaSui01/flowgraph/workflow"
	"github.com/BaSui01/flowgraph/workflow/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。同时实现 workflow.StepListener、workflow.RunListener
// 与 retry.Listener，可直接挂到 Engine 上。
type Collector struct {
	// 运行指标
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	// 步骤指标
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepsInFlight *prometheus.GaugeVec
	suspensions   *prometheus.CounterVec
	asyncTasks    *prometheus.CounterVec

	// 重试指标
	retryEvents *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	namespace string
	logger    *zap.Logger
}

var (
	_ workflow.StepListener = (*Collector)(nil)
	_ workflow.RunListener  = (*Collector)(nil)
	_ retry.Listener        = (*Collector)(nil)
)

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of finished run segments by resulting status",
		},
		[]string{"workflow_id", "status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Run segment duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"workflow_id", "status"},
	)

	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of step executions by outcome",
		},
		[]string{"workflow_id", "step_id", "outcome"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Step execution duration in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow_id", "step_id"},
	)

	c.stepsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_steps_in_flight",
			Help:      "Number of steps currently executing",
		},
		[]string{"workflow_id"},
	)

	c.suspensions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_suspensions_total",
			Help:      "Total number of runs suspended for external input",
		},
		[]string{"workflow_id", "step_id"},
	)

	c.asyncTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_async_tasks_total",
			Help:      "Total number of background tasks started",
		},
		[]string{"workflow_id", "step_id"},
	)

	c.retryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_retry_events_total",
			Help:      "Total number of retry lifecycle events",
		},
		[]string{"name", "event"}, // event: retry, success, exhausted, aborted
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔁 步骤与运行
// =============================================================================

func (c *Collector) OnStepStarted(_ context.Context, ev workflow.StepEvent) {
	c.stepsInFlight.WithLabelValues(ev.WorkflowID).Inc()
}

func (c *Collector) OnStepCompleted(_ context.Context, ev workflow.StepEvent) {
	c.stepsInFlight.WithLabelValues(ev.WorkflowID).Dec()
	c.stepDuration.WithLabelValues(ev.WorkflowID, ev.StepID).Observe(ev.Duration.Seconds())

	outcome := "unknown"
	if ev.Result != nil {
		outcome = string(ev.Result.Kind())
		switch ev.Result.Kind() {
		case workflow.KindSuspend:
			c.suspensions.WithLabelValues(ev.WorkflowID, ev.StepID).Inc()
		case workflow.KindAsync:
			c.asyncTasks.WithLabelValues(ev.WorkflowID, ev.StepID).Inc()
		}
	}
	c.stepsTotal.WithLabelValues(ev.WorkflowID, ev.StepID, outcome).Inc()
}

func (c *Collector) OnStepFailed(_ context.Context, ev workflow.StepEvent) {
	c.stepsInFlight.WithLabelValues(ev.WorkflowID).Dec()
	c.stepDuration.WithLabelValues(ev.WorkflowID, ev.StepID).Observe(ev.Duration.Seconds())
	c.stepsTotal.WithLabelValues(ev.WorkflowID, ev.StepID, "error").Inc()
}

func (c *Collector) OnRunFinished(_ context.Context, ev workflow.RunEvent) {
	status := string(ev.Status)
	c.runsTotal.WithLabelValues(ev.WorkflowID, status).Inc()
	c.runDuration.WithLabelValues(ev.WorkflowID, status).Observe(ev.Duration.Seconds())
}

// =============================================================================
// ♻️ 重试
// =============================================================================

func (c *Collector) BeforeRetry(context.Context, retry.Attempt) {}

func (c *Collector) OnRetry(ctx context.Context, a retry.Attempt) {
	c.retryEvents.WithLabelValues(retryName(ctx, a), "retry").Inc()
}

func (c *Collector) OnRetrySuccess(ctx context.Context, a retry.Attempt) {
	c.retryEvents.WithLabelValues(retryName(ctx, a), "success").Inc()
}

func (c *Collector) OnRetryExhausted(ctx context.Context, a retry.Attempt) {
	c.retryEvents.WithLabelValues(retryName(ctx, a), "exhausted").Inc()
	c.logger.Warn("retries exhausted",
		zap.String("name", retryName(ctx, a)),
		zap.Int("attempts", a.Attempt),
		zap.Error(a.Err),
	)
}

func (c *Collector) OnRetryAborted(ctx context.Context, a retry.Attempt) {
	c.retryEvents.WithLabelValues(retryName(ctx, a), "aborted").Inc()
}

// retryName 优先使用执行名，缺省时回退到上下文中的步骤 ID
func retryName(ctx context.Context, a retry.Attempt) string {
	if a.Name != "" {
		return a.Name
	}
	if id, ok := ctxkeys.StepID(ctx); ok {
		return id
	}
	return "unknown"
}

// =============================================================================
// 🧵 异步工作池
// =============================================================================

// WatchWorkers 注册工作池 gauge，抓取时调用 stats 取值。每个 Collector 只能调用一次。
func (c *Collector) WatchWorkers(stats func() workflow.WorkerStats) {
	gauges := []struct {
		name string
		help string
		get  func(workflow.WorkerStats) float64
	}{
		{"async_workers", "Number of live async worker goroutines", func(s workflow.WorkerStats) float64 { return float64(s.Workers) }},
		{"async_workers_active", "Number of async workers running a task", func(s workflow.WorkerStats) float64 { return float64(s.Active) }},
		{"async_queue_depth", "Number of async tasks waiting for a worker", func(s workflow.WorkerStats) float64 { return float64(s.Queued) }},
		{"async_rejected_total", "Number of async tasks rejected by a full queue", func(s workflow.WorkerStats) float64 { return float64(s.Rejected) }},
	}
	for _, g := range gauges {
		get := g.get
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return get(stats()) })
	}
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}
