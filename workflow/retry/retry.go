package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/BaSui01/flowgraph/types"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrExhausted is matched by errors.Is on every *ExhaustedError.
var ErrExhausted = errors.New("retry attempts exhausted")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Policy 定义步骤的重试策略
// 第 n 次失败后的等待时间为 Delay * n^BackoffMultiplier
type Policy struct {
	// 最大执行次数（含首次）
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	// 基础延迟
	Delay time.Duration `json:"delay" yaml:"delay" validate:"gte=0"`
	// 退避指数（0 表示固定延迟）
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier" validate:"gte=0"`
	// 延迟上限（0 表示不限制）
	MaxDelay time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty" validate:"gte=0"`

	// RetryOn overrides the default retryable classification when set.
	RetryOn func(err error) bool `json:"-" yaml:"-"`
}

// DefaultPolicy 返回默认重试策略
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:       3,
		Delay:             100 * time.Millisecond,
		BackoffMultiplier: 1,
		MaxDelay:          10 * time.Second,
	}
}

// Validate checks the policy bounds.
func (p *Policy) Validate() error {
	if p == nil {
		return errors.New("retry policy is nil")
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	return nil
}

// DelayFor returns the wait applied after the given failed attempt (1-based).
func (p *Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 || p.Delay <= 0 {
		return 0
	}
	d := float64(p.Delay) * math.Pow(float64(attempt), p.BackoffMultiplier)
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Retryable reports whether err should trigger another attempt under this policy.
func (p *Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if p.RetryOn != nil {
		return p.RetryOn(err)
	}
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if e, ok := types.AsError(err); ok {
		return e.Retryable
	}
	return true
}

// Attempt describes one point in the retry lifecycle handed to listeners.
type Attempt struct {
	Name        string
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	Err         error
}

// Listener observes the retry lifecycle.
type Listener interface {
	// BeforeRetry runs after a retryable failure, before waiting.
	BeforeRetry(ctx context.Context, a Attempt)
	// OnRetry runs right before a retried attempt starts.
	OnRetry(ctx context.Context, a Attempt)
	OnRetrySuccess(ctx context.Context, a Attempt)
	OnRetryExhausted(ctx context.Context, a Attempt)
	OnRetryAborted(ctx context.Context, a Attempt)
}

// NopListener ignores every hook.
type NopListener struct{}

func (NopListener) BeforeRetry(context.Context, Attempt)      {}
func (NopListener) OnRetry(context.Context, Attempt)          {}
func (NopListener) OnRetrySuccess(context.Context, Attempt)   {}
func (NopListener) OnRetryExhausted(context.Context, Attempt) {}
func (NopListener) OnRetryAborted(context.Context, Attempt)   {}

// Listeners fans a hook out to every member in order.
type Listeners []Listener

func (ls Listeners) BeforeRetry(ctx context.Context, a Attempt) {
	for _, l := range ls {
		l.BeforeRetry(ctx, a)
	}
}

func (ls Listeners) OnRetry(ctx context.Context, a Attempt) {
	for _, l := range ls {
		l.OnRetry(ctx, a)
	}
}

func (ls Listeners) OnRetrySuccess(ctx context.Context, a Attempt) {
	for _, l := range ls {
		l.OnRetrySuccess(ctx, a)
	}
}

func (ls Listeners) OnRetryExhausted(ctx context.Context, a Attempt) {
	for _, l := range ls {
		l.OnRetryExhausted(ctx, a)
	}
}

func (ls Listeners) OnRetryAborted(ctx context.Context, a Attempt) {
	for _, l := range ls {
		l.OnRetryAborted(ctx, a)
	}
}

// ExhaustedError is returned once every attempt failed.
type ExhaustedError struct {
	Name     string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Name, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Executor runs a function under a Policy and reports to a Listener.
type Executor struct {
	policy   *Policy
	listener Listener
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a retry executor. A nil policy runs the function once.
func NewExecutor(policy *Policy, listener Listener, logger *zap.Logger) *Executor {
	if policy == nil {
		policy = &Policy{MaxAttempts: 1}
	}
	if policy.MaxAttempts < 1 {
		policy = &Policy{
			MaxAttempts:       1,
			Delay:             policy.Delay,
			BackoffMultiplier: policy.BackoffMultiplier,
			MaxDelay:          policy.MaxDelay,
			RetryOn:           policy.RetryOn,
		}
	}
	if listener == nil {
		listener = NopListener{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		policy:   policy,
		listener: listener,
		logger:   logger.With(zap.String("component", "retry")),
		sleep:    sleepContext,
	}
}

// Policy returns the policy in force.
func (e *Executor) Policy() *Policy { return e.policy }

// Do runs fn until it succeeds, fails with a non-retryable error, or the policy is exhausted.
// It returns the number of attempts made.
func (e *Executor) Do(ctx context.Context, name string, fn func(ctx context.Context, attempt int) error) (int, error) {
	_, attempts, err := DoWithResult(ctx, e, name, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return attempts, err
}

// DoWithResult is the generic form of Executor.Do.
func DoWithResult[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	maxAttempts := e.policy.MaxAttempts

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			e.listener.OnRetry(ctx, Attempt{Name: name, Attempt: attempt, MaxAttempts: maxAttempts})
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("retry succeeded",
					zap.String("name", name),
					zap.Int("attempt", attempt),
				)
				e.listener.OnRetrySuccess(ctx, Attempt{Name: name, Attempt: attempt, MaxAttempts: maxAttempts})
			}
			return result, attempt, nil
		}

		if !e.policy.Retryable(err) {
			e.logger.Debug("error is not retryable",
				zap.String("name", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			e.listener.OnRetryAborted(ctx, Attempt{Name: name, Attempt: attempt, MaxAttempts: maxAttempts, Err: err})
			return zero, attempt, err
		}

		if attempt >= maxAttempts {
			e.logger.Warn("retry attempts exhausted",
				zap.String("name", name),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			e.listener.OnRetryExhausted(ctx, Attempt{Name: name, Attempt: attempt, MaxAttempts: maxAttempts, Err: err})
			return zero, attempt, &ExhaustedError{Name: name, Attempts: attempt, Last: err}
		}

		delay := e.policy.DelayFor(attempt)
		e.logger.Debug("retrying",
			zap.String("name", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		e.listener.BeforeRetry(ctx, Attempt{Name: name, Attempt: attempt, MaxAttempts: maxAttempts, Delay: delay, Err: err})

		if err := e.sleep(ctx, delay); err != nil {
			e.listener.OnRetryAborted(ctx, Attempt{Name: name, Attempt: attempt, MaxAttempts: maxAttempts, Err: err})
			return zero, attempt, fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
