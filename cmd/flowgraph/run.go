package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowgraph/workflow"
)

const pollInterval = 50 * time.Millisecond

// session 是一次子命令执行：配置、日志与 runtime
type session struct {
	rt     *runtime
	logger *zap.Logger
	out    io.Writer
}

func openSession(ctx context.Context, configPath string, out io.Writer, opts runtimeOptions) (*session, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := initLogger(cfg.Log)
	rt, err := newRuntime(ctx, cfg, logger, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{rt: rt, logger: logger, out: out}, nil
}

func (s *session) Close(ctx context.Context) {
	if err := s.rt.Close(ctx); err != nil {
		s.logger.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func runDemo(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	demoName := fs.String("demo", "order", "Demo workflow to run")
	triggerJSON := fs.String("trigger", "", "Trigger payload as JSON")
	answer := fs.String("answer", "", "Answer submitted if the run suspends")
	timeout := fs.Duration("timeout", 30*time.Second, "How long to wait for async work")
	migrate := fs.Bool("migrate", false, "Apply database migrations first")
	hold := fs.Bool("hold", false, "Keep the metrics endpoint up until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := lookupDemo(*demoName)
	if err != nil {
		return err
	}
	trigger, err := d.trigger(*triggerJSON)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openSession(ctx, *configPath, out, runtimeOptions{
		migrate: *migrate,
		demo:    demoOptions{pageDelay: 50 * time.Millisecond},
	})
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	fmt.Fprintf(out, "Starting %s: %s\n", d.name, d.description)
	res, err := s.rt.engine.Start(ctx, d.name, trigger)
	if res == nil {
		return err
	}
	res, err = s.settle(ctx, res, *answer, *timeout)

	if *hold && s.rt.ops != nil {
		fmt.Fprintf(out, "Serving metrics on %s, press Ctrl+C to exit\n", s.rt.ops.Addr())
		s.rt.ops.WaitForShutdown(ctx)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", res.InstanceID, err)
	}
	return nil
}

// settle 推进一次运行直到结束或需要外部输入：挂起时用 answer 恢复一次，等待异步任务直到超时
func (s *session) settle(ctx context.Context, res *workflow.RunResult, answer string, timeout time.Duration) (*workflow.RunResult, error) {
	for {
		printResult(s.out, res)

		switch res.Status {
		case workflow.StatusSuspended:
			if answer == "" {
				fmt.Fprintf(s.out, "Resume with: flowgraph resume --message-id %s --answer '<json>'\n", res.MessageID)
				return res, nil
			}
			next, err := s.rt.engine.Resume(ctx, res.MessageID, answer)
			answer = ""
			if next == nil {
				return res, err
			}
			res = next

		case workflow.StatusWaitingAsync:
			next, err := s.awaitTask(ctx, res, timeout)
			if err != nil {
				return res, err
			}
			res = next

		default:
			return res, res.Err
		}
	}
}

// awaitTask 轮询任务进度，实例离开 WAITING_ASYNC 后返回其最新状态
func (s *session) awaitTask(ctx context.Context, res *workflow.RunResult, timeout time.Duration) (*workflow.RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastPercent := -1
	for {
		if p, err := s.rt.engine.Progress(ctx, res.TaskID); err == nil && p.Percent != lastPercent {
			lastPercent = p.Percent
			fmt.Fprintf(s.out, "  task %s: %3d%% %s\n", p.TaskID, p.Percent, p.Message)
		}

		inst, err := s.rt.engine.Instance(ctx, res.InstanceID)
		if err != nil {
			return res, err
		}
		if inst.Status != workflow.StatusWaitingAsync || inst.PendingTaskID != res.TaskID {
			return s.resultOf(ctx, inst), nil
		}

		select {
		case <-ctx.Done():
			return res, fmt.Errorf("task %s still running after %s", res.TaskID, timeout)
		case <-ticker.C:
		}
	}
}

// resultOf 把持久化实例转换为 RunResult
func (s *session) resultOf(ctx context.Context, inst *workflow.Instance) *workflow.RunResult {
	res := &workflow.RunResult{
		InstanceID: inst.ID,
		WorkflowID: inst.WorkflowID,
		Status:     inst.Status,
		Result:     inst.Result,
		MessageID:  inst.PendingMessageID,
		TaskID:     inst.PendingTaskID,
	}
	if inst.Status == workflow.StatusFailed {
		res.Err = errors.New(inst.Error)
	}
	if inst.Status == workflow.StatusSuspended {
		if data, err := s.rt.engine.Suspension(ctx, inst.ID); err == nil && data.Prompt != nil {
			res.Prompt = string(data.Prompt.Data)
		}
	}
	return res
}

func printResult(out io.Writer, res *workflow.RunResult) {
	fmt.Fprintf(out, "Instance %s [%s] %s\n", res.InstanceID, res.WorkflowID, res.Status)
	switch res.Status {
	case workflow.StatusCompleted:
		fmt.Fprintf(out, "  result: %s\n", render(res.Result))
	case workflow.StatusFailed:
		if res.Err != nil {
			fmt.Fprintf(out, "  error: %v\n", res.Err)
		}
	case workflow.StatusSuspended:
		fmt.Fprintf(out, "  prompt: %s\n", render(res.Prompt))
		fmt.Fprintf(out, "  message id: %s\n", res.MessageID)
	case workflow.StatusWaitingAsync:
		fmt.Fprintf(out, "  task id: %s\n", res.TaskID)
	}
}

// render 字符串原样输出，其他值输出 JSON
func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func runResume(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	messageID := fs.String("message-id", "", "Message id of the suspended run")
	answer := fs.String("answer", "", "Answer as JSON")
	timeout := fs.Duration("timeout", 30*time.Second, "How long to wait for async work")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *messageID == "" || *answer == "" {
		return fmt.Errorf("resume requires --message-id and --answer")
	}

	ctx := context.Background()
	s, err := openSession(ctx, *configPath, out, runtimeOptions{demo: demoOptions{pageDelay: 50 * time.Millisecond}})
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	res, err := s.rt.engine.Resume(ctx, *messageID, *answer)
	if res == nil {
		return err
	}
	if _, err := s.settle(ctx, res, "", *timeout); err != nil {
		return fmt.Errorf("run %s: %w", res.InstanceID, err)
	}
	return nil
}

func runStatus(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	instanceID := fs.String("instance", "", "Instance id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instanceID == "" {
		return fmt.Errorf("status requires --instance")
	}

	ctx := context.Background()
	s, err := openSession(ctx, *configPath, out, runtimeOptions{})
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	inst, err := s.rt.engine.Instance(ctx, *instanceID)
	if err != nil {
		return err
	}
	printResult(out, s.resultOf(ctx, inst))
	fmt.Fprintf(out, "  version: %s, current step: %s, updated: %s\n",
		inst.WorkflowVersion, inst.CurrentStepID, inst.UpdatedAt.Format(time.RFC3339))

	for _, rec := range inst.History() {
		line := fmt.Sprintf("  #%d %-10s %-16s attempt=%d %s", rec.Seq, rec.StepID, rec.Outcome, rec.Attempt, rec.Duration)
		if rec.Error != "" {
			line += " error=" + rec.Error
		}
		fmt.Fprintln(out, line)
	}

	if inst.PendingTaskID != "" {
		if p, err := s.rt.engine.Progress(ctx, inst.PendingTaskID); err == nil {
			fmt.Fprintf(out, "  task %s: %s %d%% %s\n", p.TaskID, p.Status, p.Percent, p.Message)
		}
	}
	return nil
}
