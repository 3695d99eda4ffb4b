package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/flowgraph/internal/ctxkeys"
	"github.com/BaSui01/flowgraph/internal/pool"
	"github.com/BaSui01/flowgraph/types"
	"github.com/BaSui01/flowgraph/workflow/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/BaSui01/flowgraph/workflow"

// RunResult reports where a run segment stopped.
type RunResult struct {
	InstanceID string
	WorkflowID string
	Status     InstanceStatus
	// Result is set when the run completed.
	Result any
	// Err is set when the run failed.
	Err error
	// MessageID and Prompt are set when the run is suspended.
	MessageID string
	Prompt    any
	// TaskID is set while the run waits for async work.
	TaskID string
}

// Engine drives workflow instances through their graphs. Calls touching the
// same instance are serialized; distinct instances run concurrently.
type Engine struct {
	logger   *zap.Logger
	registry *TypeRegistry
	router   *Router
	resolver *InputResolver
	tracer   trace.Tracer

	graphsMu sync.RWMutex
	graphs   map[string]*Graph

	instances   InstanceStore
	suspensions SuspensionRepository
	progress    ProgressTracker

	bus         *CompletionBus
	ownsBus     bool
	workers     *pool.GoroutinePool
	ownsWorkers bool
	poolConfig  pool.GoroutinePoolConfig

	completionTopic string
	locks           *instanceLocks

	stepListeners  stepListeners
	runListeners   []RunListener
	retryListeners retry.Listeners

	defaultLimit  int
	defaultAction LimitAction
	progressRate  rate.Limit

	baseCtx context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithInstanceStore sets the instance persistence backend.
func WithInstanceStore(s InstanceStore) EngineOption {
	return func(e *Engine) { e.instances = s }
}

// WithSuspensionRepository sets the suspension backend.
func WithSuspensionRepository(r SuspensionRepository) EngineOption {
	return func(e *Engine) { e.suspensions = r }
}

// WithProgressTracker sets the async progress backend.
func WithProgressTracker(t ProgressTracker) EngineOption {
	return func(e *Engine) { e.progress = t }
}

// WithCompletionBus sets the bus async completions travel on. The caller keeps ownership.
func WithCompletionBus(b *CompletionBus) EngineOption {
	return func(e *Engine) { e.bus = b }
}

// WithWorkerPool sets the pool async work runs on. The caller keeps ownership.
func WithWorkerPool(p *pool.GoroutinePool) EngineOption {
	return func(e *Engine) { e.workers = p }
}

// WithAsyncWorkers sizes the pool the engine creates for async work.
// Ignored when WithWorkerPool supplies one.
func WithAsyncWorkers(maxWorkers, queueSize int) EngineOption {
	return func(e *Engine) {
		e.poolConfig.MaxWorkers = maxWorkers
		e.poolConfig.QueueSize = queueSize
	}
}

// WithCompletionTopic names the topic of the in-process completion bus.
// Ignored when WithCompletionBus supplies one.
func WithCompletionTopic(topic string) EngineOption {
	return func(e *Engine) { e.completionTopic = topic }
}

// WithStepListener adds a step listener.
func WithStepListener(l StepListener) EngineOption {
	return func(e *Engine) { e.stepListeners = append(e.stepListeners, l) }
}

// WithRunListener adds a run listener.
func WithRunListener(l RunListener) EngineOption {
	return func(e *Engine) { e.runListeners = append(e.runListeners, l) }
}

// WithRetryListener adds a retry listener.
func WithRetryListener(l retry.Listener) EngineOption {
	return func(e *Engine) { e.retryListeners = append(e.retryListeners, l) }
}

// WithDefaultInvocationLimit bounds steps that declare no limit of their own.
func WithDefaultInvocationLimit(limit int, action LimitAction) EngineOption {
	return func(e *Engine) {
		e.defaultLimit = limit
		e.defaultAction = action
	}
}

// WithProgressRate throttles intermediate progress writes per task. Zero disables throttling.
func WithProgressRate(r rate.Limit) EngineOption {
	return func(e *Engine) { e.progressRate = r }
}

// WithTracerProvider sets the tracer provider; the global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithTypeRegistry shares a type registry with persistence backends.
func WithTypeRegistry(r *TypeRegistry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// NewEngine creates an engine. Unset backends default to in-memory ones.
func NewEngine(logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:        logger.With(zap.String("component", "engine")),
		graphs:        make(map[string]*Graph),
		locks:         newInstanceLocks(),
		defaultAction: LimitError,
		poolConfig:    pool.DefaultGoroutinePoolConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		e.registry = NewTypeRegistry()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.instances == nil {
		e.instances = NewMemoryInstanceStore()
	}
	if e.suspensions == nil {
		e.suspensions = NewMemorySuspensionRepository()
	}
	if e.progress == nil {
		e.progress = NewMemoryProgressTracker()
	}
	if e.bus == nil {
		e.bus = NewInProcessBus(e.completionTopic, logger)
		e.ownsBus = true
	}
	if e.workers == nil {
		cfg := e.poolConfig
		cfg.PanicHandler = func(name string, r any) {
			e.logger.Error("async worker panicked", zap.String("task", name), zap.Any("panic", r))
		}
		e.workers = pool.NewGoroutinePool(cfg)
		e.ownsWorkers = true
	}
	e.router = NewRouter(logger)
	e.resolver = NewInputResolver(logger)

	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	if err := e.bus.Subscribe(e.baseCtx, e.handleCompletion); err != nil {
		e.cancel()
		return nil, fmt.Errorf("subscribe to completions: %w", err)
	}
	return e, nil
}

// Types returns the registry used to persist values.
func (e *Engine) Types() *TypeRegistry { return e.registry }

// Register makes g available to Start. Every type it declares is added to the registry.
func (e *Engine) Register(g *Graph) error {
	if g == nil {
		return types.NewError(types.ErrGraphInvalid, "graph is nil")
	}
	e.graphsMu.Lock()
	defer e.graphsMu.Unlock()
	if _, exists := e.graphs[g.ID()]; exists {
		return types.Errorf(types.ErrGraphInvalid, "workflow %s already registered", g.ID())
	}
	for _, t := range g.Types() {
		e.registry.Register(t)
	}
	e.graphs[g.ID()] = g
	e.logger.Info("workflow registered",
		zap.String("workflow_id", g.ID()),
		zap.String("version", g.Version()),
		zap.Int("nodes", len(g.order)),
	)
	return nil
}

// Graph returns a registered graph.
func (e *Engine) Graph(workflowID string) (*Graph, bool) {
	e.graphsMu.RLock()
	defer e.graphsMu.RUnlock()
	g, ok := e.graphs[workflowID]
	return g, ok
}

func (e *Engine) graph(workflowID string) (*Graph, error) {
	g, ok := e.Graph(workflowID)
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "workflow %s not registered", workflowID)
	}
	return g, nil
}

// Start runs workflowID with trigger under a new instance id.
func (e *Engine) Start(ctx context.Context, workflowID string, trigger any) (*RunResult, error) {
	return e.StartWithID(ctx, workflowID, uuid.NewString(), trigger)
}

// StartWithID runs workflowID with trigger under instanceID. The call returns when the
// run completes, fails, suspends or hands off async work. A failed run returns its
// RunResult together with the failure.
func (e *Engine) StartWithID(ctx context.Context, workflowID, instanceID string, trigger any) (*RunResult, error) {
	if e.closed.Load() {
		return nil, types.NewError(types.ErrInstanceState, "engine is closed")
	}
	g, err := e.graph(workflowID)
	if err != nil {
		return nil, err
	}
	if instanceID == "" {
		return nil, types.NewError(types.ErrInstanceState, "instance id must not be empty")
	}

	var res *RunResult
	err = e.locks.withLock(ctx, instanceID, func(ctx context.Context) error {
		if _, err := e.instances.Load(ctx, instanceID); err == nil {
			return types.Errorf(types.ErrInstanceState, "instance %s already exists", instanceID)
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("load instance %s: %w", instanceID, err)
		}
		if trigger != nil {
			e.registry.Register(ValueType(trigger))
		}

		inst := NewInstance(instanceID, g, trigger)
		entry := g.EntryFor(trigger)
		inst.CurrentStepID = entry.ID()
		e.logger.Info("workflow run started",
			zap.String("instance_id", instanceID),
			zap.String("workflow_id", workflowID),
			zap.String("initial_step", entry.ID()),
		)
		if err := e.save(ctx, inst); err != nil {
			return err
		}
		res, err = e.drive(ctx, g, inst, entry)
		return err
	})
	return res, err
}

// Instance loads a detached copy of an instance.
func (e *Engine) Instance(ctx context.Context, instanceID string) (*Instance, error) {
	rec, err := e.instances.Load(ctx, instanceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, types.Errorf(types.ErrNotFound, "instance %s not found", instanceID).WithCause(err)
		}
		return nil, err
	}
	return DecodeInstance(e.registry, rec)
}

// WorkerStats reports the async worker pool.
type WorkerStats struct {
	Workers   int
	Active    int
	Queued    int
	Completed int64
	Failed    int64
	Rejected  int64
}

// WorkerStats returns a snapshot of the async worker pool.
func (e *Engine) WorkerStats() WorkerStats {
	s := e.workers.Stats()
	return WorkerStats{
		Workers:   s.Workers,
		Active:    s.Active,
		Queued:    s.Queued,
		Completed: s.Completed,
		Failed:    s.Failed,
		Rejected:  s.Rejected,
	}
}

// Close stops async workers and the completion bus. Running async work is drained first.
func (e *Engine) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	var errs []error
	if e.ownsWorkers {
		if err := e.workers.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close workers: %w", err))
		}
	}
	if e.ownsBus {
		if err := e.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close completion bus: %w", err))
		}
	}
	e.cancel()
	return errors.Join(errs...)
}

// segment holds what a run segment produced beyond the instance itself.
type segment struct {
	start   time.Time
	err     error
	prompt  any
	pending *asyncJob
}

// drive executes nodes starting at next until the instance leaves RUNNING.
// The caller must hold the instance lock.
func (e *Engine) drive(ctx context.Context, g *Graph, inst *Instance, next *StepNode) (*RunResult, error) {
	ctx = ctxkeys.WithInstanceID(ctx, inst.ID)
	ctx = ctxkeys.WithWorkflowID(ctx, inst.WorkflowID)
	ctx, span := e.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.id", inst.WorkflowID),
			attribute.String("workflow.instance_id", inst.ID),
		),
	)
	defer span.End()

	seg := &segment{start: time.Now()}
	for next != nil && inst.Status == StatusRunning {
		next = e.executeNode(ctx, g, inst, next, seg)
		if err := e.save(ctx, inst); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return e.result(inst, seg), err
		}
	}
	if inst.Status == StatusRunning {
		// no successor: the run ends with the last produced value
		e.complete(inst, inst.lastValue())
		if err := e.save(ctx, inst); err != nil {
			return e.result(inst, seg), err
		}
	}

	if seg.pending != nil {
		if err := e.submitAsync(seg.pending); err != nil {
			e.failAsyncSubmit(ctx, inst, seg, err)
		}
	}

	res := e.result(inst, seg)
	span.SetAttributes(attribute.String("workflow.status", string(inst.Status)))
	if inst.Status == StatusFailed {
		span.RecordError(seg.err)
		span.SetStatus(codes.Error, inst.Error)
	}
	e.finishSegment(ctx, inst, seg)
	if inst.Status == StatusFailed {
		return res, seg.err
	}
	return res, nil
}

func (e *Engine) result(inst *Instance, seg *segment) *RunResult {
	res := &RunResult{
		InstanceID: inst.ID,
		WorkflowID: inst.WorkflowID,
		Status:     inst.Status,
	}
	switch inst.Status {
	case StatusCompleted:
		res.Result = inst.Result
	case StatusFailed:
		res.Err = seg.err
	case StatusSuspended:
		res.MessageID = inst.PendingMessageID
		res.Prompt = seg.prompt
	case StatusWaitingAsync:
		res.TaskID = inst.PendingTaskID
	}
	return res
}

func (e *Engine) finishSegment(ctx context.Context, inst *Instance, seg *segment) {
	d := time.Since(seg.start)
	fields := []zap.Field{
		zap.String("instance_id", inst.ID),
		zap.String("workflow_id", inst.WorkflowID),
		zap.String("status", string(inst.Status)),
		zap.Duration("duration", d),
	}
	if inst.Status == StatusFailed {
		e.logger.Error("workflow run failed", append(fields, zap.String("error", inst.Error))...)
	} else {
		e.logger.Info("workflow run segment finished", fields...)
	}

	if len(e.runListeners) == 0 {
		return
	}
	ev := RunEvent{
		InstanceID: inst.ID,
		WorkflowID: inst.WorkflowID,
		Status:     inst.Status,
		Result:     inst.Result,
		Err:        seg.err,
		Duration:   d,
		Snapshot:   inst.Context.Snapshot(),
	}
	for _, l := range e.runListeners {
		l.OnRunFinished(ctx, ev)
	}
}

// executeNode runs node once and returns the next node, or nil when the instance left RUNNING.
func (e *Engine) executeNode(ctx context.Context, g *Graph, inst *Instance, node *StepNode, seg *segment) *StepNode {
	limit, action := node.InvocationLimit(), node.OnLimitAction()
	if limit <= 0 {
		limit, action = e.defaultLimit, e.defaultAction
	}
	if limit > 0 && inst.invocations[node.ID()] >= limit {
		return e.onLimitReached(g, inst, node, limit, action, seg)
	}

	input, source, err := e.resolver.Resolve(node, inst)
	if err != nil {
		inst.record(ExecutionRecord{StepID: node.ID(), Outcome: OutcomeError, Error: err.Error()})
		e.fail(inst, err, seg)
		return nil
	}

	inst.invocations[node.ID()]++
	inst.CurrentStepID = node.ID()

	stepCtx := ctxkeys.WithStepID(ctx, node.ID())
	stepCtx, span := e.tracer.Start(stepCtx, "workflow.step",
		trace.WithAttributes(
			attribute.String("workflow.step_id", node.ID()),
			attribute.String("workflow.input_source", string(source)),
			attribute.Int("workflow.invocation", inst.invocations[node.ID()]),
		),
	)
	defer span.End()
	stepCtx = withScope(stepCtx, &execScope{
		instanceID: inst.ID,
		workflowID: inst.WorkflowID,
		stepID:     node.ID(),
		listeners:  e.stepListeners,
		retry:      e.retryListeners,
		logger:     e.logger,
	})

	ev := StepEvent{InstanceID: inst.ID, WorkflowID: inst.WorkflowID, StepID: node.ID(), Input: input}
	if len(e.stepListeners) > 0 {
		ev.Snapshot = inst.Context.Snapshot()
		e.stepListeners.started(stepCtx, ev)
	}
	e.logger.Debug("executing step",
		zap.String("instance_id", inst.ID),
		zap.String("step_id", node.ID()),
		zap.String("input_source", string(source)),
	)

	start := time.Now()
	var retryListener retry.Listener
	if node.RetryPolicy() != nil {
		retryListener = e.retryListeners
	}
	exec := retry.NewExecutor(node.RetryPolicy(), retryListener, e.logger)
	res, attempts, err := retry.DoWithResult(stepCtx, exec, node.ID(), func(ctx context.Context, attempt int) (StepResult, error) {
		attemptStart := time.Now()
		res, err := invokeStep(ctx, node.ID(), node.Executor(), input, inst.Context)
		if err != nil {
			inst.record(ExecutionRecord{
				StepID:   node.ID(),
				Outcome:  OutcomeError,
				Attempt:  attempt,
				Duration: time.Since(attemptStart),
				Error:    err.Error(),
			})
		}
		return res, err
	})
	d := time.Since(start)
	ev.Attempts = attempts
	ev.Duration = d

	if err != nil {
		err = stepFailure(node.ID(), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res = Fail{Err: err}
	}
	ev.Result = res

	if f, ok := res.(Fail); ok {
		if ev.Err = f.Err; ev.Err == nil {
			ev.Err = types.NewError(types.ErrStepFailed, "step failed").WithStep(node.ID())
		}
		if len(e.stepListeners) > 0 {
			ev.Snapshot = inst.Context.Snapshot()
			e.stepListeners.failed(stepCtx, ev)
		}
		return e.onFail(g, inst, node, ev.Err, attempts, d, seg)
	}

	next := e.advance(stepCtx, g, inst, node, res, attempts, d, seg)
	if len(e.stepListeners) > 0 {
		ev.Snapshot = inst.Context.Snapshot()
		e.stepListeners.completed(stepCtx, ev)
	}
	return next
}

// stepFailure classifies an error escaping the retry executor.
func stepFailure(stepID string, err error) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		if exhausted.Attempts > 1 {
			return types.Errorf(types.ErrRetryExhausted, "failed after %d attempts", exhausted.Attempts).
				WithStep(stepID).WithCause(exhausted.Last)
		}
		err = exhausted.Last
	}
	if typed, ok := types.AsError(err); ok {
		if typed.StepID == "" {
			typed.StepID = stepID
		}
		return err
	}
	return types.NewError(types.ErrStepFailed, "step failed").WithStep(stepID).WithCause(err)
}

func (e *Engine) onLimitReached(g *Graph, inst *Instance, node *StepNode, limit int, action LimitAction, seg *segment) *StepNode {
	msg := fmt.Sprintf("invocation limit %d reached", limit)
	e.logger.Info("step invocation limit reached",
		zap.String("instance_id", inst.ID),
		zap.String("step_id", node.ID()),
		zap.Int("limit", limit),
		zap.String("action", string(action)),
	)

	switch action {
	case LimitStop:
		inst.record(ExecutionRecord{StepID: node.ID(), Outcome: OutcomeSkipped, Error: msg})
		e.complete(inst, inst.lastValue())
		return nil
	case LimitContinue:
		inst.record(ExecutionRecord{StepID: node.ID(), Outcome: OutcomeSkipped, Error: msg})
		value := inst.lastValue()
		next, ok, err := e.router.findNextStep(g, node.ID(), value, e.notExhausted(inst))
		if err != nil {
			return e.onFail(g, inst, node, err, 0, 0, seg)
		}
		if !ok {
			e.complete(inst, value)
			return nil
		}
		return next
	default:
		err := types.NewError(types.ErrInvocationLimit, msg).WithStep(node.ID())
		inst.record(ExecutionRecord{StepID: node.ID(), Outcome: OutcomeError, Error: err.Error()})
		e.fail(inst, err, seg)
		return nil
	}
}

// notExhausted admits nodes that can still be invoked.
func (e *Engine) notExhausted(inst *Instance) nodeFilter {
	return func(n *StepNode) bool {
		limit := n.InvocationLimit()
		if limit <= 0 {
			limit = e.defaultLimit
		}
		return limit <= 0 || inst.invocations[n.ID()] < limit
	}
}

func (e *Engine) onFail(g *Graph, inst *Instance, node *StepNode, err error, attempts int, d time.Duration, seg *segment) *StepNode {
	inst.recordOutput(node.ID(), OutcomeFail, err, false, attempts, d)
	if target, ok := e.router.FindErrorTarget(g, node.ID()); ok {
		e.logger.Warn("step failed, following error edge",
			zap.String("instance_id", inst.ID),
			zap.String("step_id", node.ID()),
			zap.String("error_step", target.ID()),
			zap.Error(err),
		)
		return target
	}
	e.fail(inst, err, seg)
	return nil
}

// advance applies a non-failure result.
func (e *Engine) advance(ctx context.Context, g *Graph, inst *Instance, node *StepNode, res StepResult, attempts int, d time.Duration, seg *segment) *StepNode {
	switch r := res.(type) {
	case Continue:
		inst.recordOutput(node.ID(), OutcomeContinue, r.Data, false, attempts, d)
		next, ok, err := e.router.FindNextStep(g, node.ID(), r.Data)
		if err != nil {
			return e.onFail(g, inst, node, err, attempts, d, seg)
		}
		if !ok {
			e.complete(inst, r.Data)
			return nil
		}
		return next

	case Branch:
		inst.recordOutput(node.ID(), OutcomeBranch, r.Event, false, attempts, d)
		next, ok := e.router.FindBranchTarget(g, node.ID(), r.Event)
		if !ok {
			err := types.Errorf(types.ErrNoRoute, "no step accepts branch event %s", TypeName(ValueType(r.Event))).
				WithStep(node.ID())
			e.fail(inst, err, seg)
			return nil
		}
		return next

	case Finish:
		inst.recordOutput(node.ID(), OutcomeFinish, r.Result, false, attempts, d)
		e.complete(inst, r.Result)
		return nil

	case Suspend:
		e.suspend(ctx, inst, node, r, attempts, d, seg)
		return nil

	case Async:
		e.beginAsync(ctx, g, inst, node, r, attempts, d, seg)
		return nil
	}

	err := types.Errorf(types.ErrStepFailed, "unsupported step result %T", res).WithStep(node.ID())
	e.fail(inst, err, seg)
	return nil
}

func (e *Engine) complete(inst *Instance, result any) {
	inst.Status = StatusCompleted
	inst.Result = result
	inst.UpdatedAt = time.Now()
	if result != nil {
		e.registry.Register(ValueType(result))
	}
}

func (e *Engine) fail(inst *Instance, err error, seg *segment) {
	inst.Status = StatusFailed
	inst.Error = err.Error()
	inst.UpdatedAt = time.Now()
	seg.err = err
}

func (e *Engine) save(ctx context.Context, inst *Instance) error {
	rec, err := EncodeInstance(e.registry, inst)
	if err != nil {
		return fmt.Errorf("encode instance %s: %w", inst.ID, err)
	}
	if err := e.instances.Save(ctx, rec); err != nil {
		e.logger.Error("failed to persist instance",
			zap.String("instance_id", inst.ID),
			zap.Error(err),
		)
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	return nil
}

// load restores an instance and its graph.
func (e *Engine) load(ctx context.Context, instanceID string) (*Instance, *Graph, error) {
	inst, err := e.Instance(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	g, err := e.graph(inst.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	return inst, g, nil
}
