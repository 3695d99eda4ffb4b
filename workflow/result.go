package workflow

import (
	"context"
	"reflect"
)

// ResultKind identifies the StepResult variant.
type ResultKind string

const (
	KindContinue ResultKind = "CONTINUE"
	KindBranch   ResultKind = "BRANCH"
	KindFail     ResultKind = "FAIL"
	KindFinish   ResultKind = "FINISH"
	KindSuspend  ResultKind = "SUSPEND"
	KindAsync    ResultKind = "ASYNC"
)

// StepResult is the outcome of one step invocation. Exactly one variant
// (Continue, Branch, Fail, Finish, Suspend, Async) is returned per call.
type StepResult interface {
	Kind() ResultKind
	stepResult()
}

// Continue proceeds along a sequential or type-directed edge with Data.
type Continue struct {
	Data any
}

// Branch proceeds along the BRANCH edge matching the runtime type of Event.
type Branch struct {
	Event any
}

// Fail aborts along an ERROR edge, or terminates the run when none exists.
type Fail struct {
	Err error
}

// Finish terminates the run successfully.
type Finish struct {
	Result any
}

// Suspend halts the run until an external answer arrives for MessageID.
type Suspend struct {
	// MessageID correlates the eventual answer; generated when empty.
	MessageID string
	// Prompt is surfaced to the caller (a question, a form, ...).
	Prompt any
	// AnswerType is the type the answer is deserialized into. nil accepts any JSON value.
	AnswerType reflect.Type
	// Schema is an optional JSON schema the raw answer must satisfy.
	Schema string
}

// AsyncWork is the background unit behind an Async result.
type AsyncWork func(ctx context.Context, reporter TaskProgressReporter) (any, error)

// Async hands Work to a background worker and halts the run until it completes.
type Async struct {
	Work AsyncWork
	// CompletionStepID names the step receiving the result; falls back to the node's declaration.
	CompletionStepID string
	// Message is the initial progress message.
	Message string
}

func (Continue) Kind() ResultKind { return KindContinue }
func (Branch) Kind() ResultKind   { return KindBranch }
func (Fail) Kind() ResultKind     { return KindFail }
func (Finish) Kind() ResultKind   { return KindFinish }
func (Suspend) Kind() ResultKind  { return KindSuspend }
func (Async) Kind() ResultKind    { return KindAsync }

func (Continue) stepResult() {}
func (Branch) stepResult()   {}
func (Fail) stepResult()     {}
func (Finish) stepResult()   {}
func (Suspend) stepResult()  {}
func (Async) stepResult()    {}

// ContinueWith returns a Continue result.
func ContinueWith(data any) StepResult { return Continue{Data: data} }

// BranchOn returns a Branch result.
func BranchOn(event any) StepResult { return Branch{Event: event} }

// FailWith returns a Fail result.
func FailWith(err error) StepResult { return Fail{Err: err} }

// FinishWith returns a Finish result.
func FinishWith(result any) StepResult { return Finish{Result: result} }

// SuspendFor returns a Suspend result expecting an answer of type A.
func SuspendFor[A any](prompt any) StepResult {
	return Suspend{Prompt: prompt, AnswerType: TypeOf[A]()}
}

// RunAsync returns an Async result for work.
func RunAsync(work AsyncWork) StepResult { return Async{Work: work} }
