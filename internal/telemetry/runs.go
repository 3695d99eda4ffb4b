package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BaSui01/flowgraph/workflow"
)

// RunMeter 以 OTel 指标记录 run 段与步骤，实现 workflow.RunListener 与 workflow.StepListener
type RunMeter struct {
	runs         metric.Int64Counter
	runDuration  metric.Float64Histogram
	steps        metric.Int64Counter
	stepDuration metric.Float64Histogram
}

var (
	_ workflow.RunListener  = (*RunMeter)(nil)
	_ workflow.StepListener = (*RunMeter)(nil)
)

// NewRunMeter 在 meter 上创建全部 instrument
func NewRunMeter(meter metric.Meter) (*RunMeter, error) {
	var (
		m    RunMeter
		err  error
		errs []error
	)
	m.runs, err = meter.Int64Counter("flowgraph.runs",
		metric.WithDescription("Finished run segments by resulting status"))
	errs = append(errs, err)
	m.runDuration, err = meter.Float64Histogram("flowgraph.run.duration",
		metric.WithDescription("Run segment duration"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.steps, err = meter.Int64Counter("flowgraph.steps",
		metric.WithDescription("Step invocations by outcome"))
	errs = append(errs, err)
	m.stepDuration, err = meter.Float64Histogram("flowgraph.step.duration",
		metric.WithDescription("Step duration including retries"), metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *RunMeter) OnRunFinished(ctx context.Context, ev workflow.RunEvent) {
	attrs := metric.WithAttributes(
		attribute.String("workflow.id", ev.WorkflowID),
		attribute.String("workflow.status", string(ev.Status)),
	)
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, ev.Duration.Seconds(), attrs)
}

func (m *RunMeter) OnStepStarted(context.Context, workflow.StepEvent) {}

func (m *RunMeter) OnStepCompleted(ctx context.Context, ev workflow.StepEvent) {
	outcome := "unknown"
	if ev.Result != nil {
		outcome = string(ev.Result.Kind())
	}
	m.recordStep(ctx, ev, outcome)
}

func (m *RunMeter) OnStepFailed(ctx context.Context, ev workflow.StepEvent) {
	m.recordStep(ctx, ev, "error")
}

func (m *RunMeter) recordStep(ctx context.Context, ev workflow.StepEvent, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("workflow.id", ev.WorkflowID),
		attribute.String("workflow.step", ev.StepID),
		attribute.String("workflow.outcome", outcome),
	)
	m.steps.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, ev.Duration.Seconds(), attrs)
}
