package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/flowgraph/workflow"
	"github.com/BaSui01/flowgraph/workflow/retry"
)

// ---- order: validation, pricing with retry, conditional discount, branch on rejection ----

type LineItem struct {
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type OrderRequest struct {
	Customer string     `json:"customer"`
	Items    []LineItem `json:"items"`
}

type ValidatedOrder struct {
	Customer string     `json:"customer"`
	Items    []LineItem `json:"items"`
}

type PricedOrder struct {
	Customer string  `json:"customer"`
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

type Rejection struct {
	Reason string `json:"reason"`
}

// discountThreshold 小计达到该金额时打九折
const discountThreshold = 100.0

// flakyPricer 模拟一个偶发超时的定价服务：每个实例的第一次调用失败
type flakyPricer struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFlakyPricer() *flakyPricer {
	return &flakyPricer{seen: make(map[string]bool)}
}

func (p *flakyPricer) price(instanceID string, items []LineItem) (float64, error) {
	p.mu.Lock()
	first := !p.seen[instanceID]
	p.seen[instanceID] = true
	p.mu.Unlock()
	if first {
		return 0, errors.New("pricing service timed out")
	}

	var subtotal float64
	for _, it := range items {
		subtotal += float64(it.Quantity) * it.UnitPrice
	}
	return subtotal, nil
}

func orderGraph(policy *retry.Policy) (*workflow.Graph, error) {
	pricer := newFlakyPricer()

	validate := workflow.NewStep[OrderRequest, ValidatedOrder](func(_ context.Context, req OrderRequest, _ workflow.ContextReader) (workflow.StepResult, error) {
		if strings.TrimSpace(req.Customer) == "" {
			return workflow.BranchOn(Rejection{Reason: "missing customer"}), nil
		}
		if len(req.Items) == 0 {
			return workflow.BranchOn(Rejection{Reason: "order has no items"}), nil
		}
		for _, it := range req.Items {
			if it.Quantity <= 0 {
				return workflow.BranchOn(Rejection{Reason: fmt.Sprintf("invalid quantity for %s", it.SKU)}), nil
			}
		}
		return workflow.ContinueWith(ValidatedOrder(req)), nil
	})

	price := workflow.NewStep[ValidatedOrder, PricedOrder](func(_ context.Context, o ValidatedOrder, rc workflow.ContextReader) (workflow.StepResult, error) {
		subtotal, err := pricer.price(rc.InstanceID(), o.Items)
		if err != nil {
			return nil, err
		}
		return workflow.ContinueWith(PricedOrder{Customer: o.Customer, Subtotal: subtotal, Total: subtotal}), nil
	})

	discount := workflow.Map(func(_ context.Context, p PricedOrder) (PricedOrder, error) {
		p.Discount = p.Subtotal * 0.1
		p.Total = p.Subtotal - p.Discount
		return p, nil
	})

	receipt := workflow.NewStep[PricedOrder, string](func(_ context.Context, p PricedOrder, _ workflow.ContextReader) (workflow.StepResult, error) {
		return workflow.FinishWith(fmt.Sprintf("%s pays %.2f (subtotal %.2f, discount %.2f)", p.Customer, p.Total, p.Subtotal, p.Discount)), nil
	})

	reject := workflow.NewStep[Rejection, string](func(_ context.Context, r Rejection, _ workflow.ContextReader) (workflow.StepResult, error) {
		return workflow.FinishWith("rejected: " + r.Reason), nil
	})

	return workflow.NewGraphBuilder("order").
		WithVersion("1.0.0").
		AddStep("validate", validate).Initial().Describe("checks customer and line items").Done().
		AddStep("price", price).Retry(policy).Describe("calls the pricing service").Done().
		AddStep("discount", discount).Describe("10% off large orders").Done().
		AddStep("receipt", receipt).Done().
		AddStep("reject", reject).Done().
		Then("validate", "price").
		OnBranch("validate", "reject", workflow.TypeOf[Rejection]()).
		When("price", "discount", func(v any) bool {
			p, ok := v.(PricedOrder)
			return ok && p.Subtotal >= discountThreshold
		}, fmt.Sprintf("subtotal >= %.0f", discountThreshold)).
		Then("price", "receipt").
		Then("discount", "receipt").
		Build()
}

// ---- support: suspends for a priority when the ticket has none ----

type SupportTicket struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Priority int    `json:"priority,omitempty"`
}

type Priority struct {
	Level int `json:"level"`
}

type Assignment struct {
	Subject string `json:"subject"`
	Queue   string `json:"queue"`
	SLA     string `json:"sla"`
}

const prioritySchema = `{
  "type": "object",
  "properties": {"level": {"type": "integer", "minimum": 1, "maximum": 4}},
  "required": ["level"]
}`

func supportGraph() (*workflow.Graph, error) {
	triage := workflow.NewStep[SupportTicket, Priority](func(_ context.Context, t SupportTicket, _ workflow.ContextReader) (workflow.StepResult, error) {
		if t.Priority >= 1 && t.Priority <= 4 {
			return workflow.ContinueWith(Priority{Level: t.Priority}), nil
		}
		return workflow.Suspend{
			Prompt:     fmt.Sprintf("What priority (1-4) should %q get?", t.Subject),
			AnswerType: workflow.TypeOf[Priority](),
			Schema:     prioritySchema,
		}, nil
	})

	assign := workflow.NewStep[Priority, Assignment](func(_ context.Context, p Priority, rc workflow.ContextReader) (workflow.StepResult, error) {
		ticket, ok := rc.Trigger().(SupportTicket)
		if !ok {
			return nil, fmt.Errorf("unexpected trigger %T", rc.Trigger())
		}
		a := Assignment{Subject: ticket.Subject, Queue: "general", SLA: "72h"}
		switch p.Level {
		case 1:
			a.Queue, a.SLA = "incident", "1h"
		case 2:
			a.Queue, a.SLA = "escalation", "8h"
		}
		return workflow.FinishWith(a), nil
	})

	return workflow.NewGraphBuilder("support").
		WithVersion("1.0.0").
		AddStep("triage", triage).Initial().Describe("asks for a priority when missing").Done().
		AddStep("assign", assign).Describe("picks a queue and SLA").Done().
		Then("triage", "assign").
		Build()
}

// ---- report: async rendering with progress, completed by a companion step ----

type ReportRequest struct {
	Name  string `json:"name"`
	Pages int    `json:"pages"`
}

type RenderedReport struct {
	Name  string `json:"name"`
	Pages int    `json:"pages"`
	Bytes int    `json:"bytes"`
}

func reportGraph(pageDelay time.Duration) (*workflow.Graph, error) {
	render := workflow.NewStep[ReportRequest, RenderedReport](func(_ context.Context, req ReportRequest, _ workflow.ContextReader) (workflow.StepResult, error) {
		if req.Pages <= 0 {
			return workflow.FailWith(fmt.Errorf("report %q has no pages", req.Name)), nil
		}
		work := func(ctx context.Context, r workflow.TaskProgressReporter) (any, error) {
			out := RenderedReport{Name: req.Name}
			for page := 1; page <= req.Pages; page++ {
				if r.IsCancelled() {
					return nil, fmt.Errorf("rendering cancelled at page %d", page)
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(pageDelay):
				}
				out.Pages = page
				out.Bytes += 2048
				_ = r.Report(page*100/req.Pages, fmt.Sprintf("rendered page %d/%d", page, req.Pages))
			}
			return out, nil
		}
		return workflow.Async{Work: work, Message: "queued for rendering"}, nil
	})

	publish := workflow.NewStep[RenderedReport, string](func(_ context.Context, r RenderedReport, _ workflow.ContextReader) (workflow.StepResult, error) {
		return workflow.FinishWith(fmt.Sprintf("published %s (%d pages, %d bytes)", r.Name, r.Pages, r.Bytes)), nil
	})

	return workflow.NewGraphBuilder("report").
		WithVersion("1.0.0").
		AddStep("render", render).Initial().CompleteWith("publish").Describe("renders pages in the background").Done().
		AddStep("publish", publish).Done().
		Build()
}

// ---- registry ----

type demoOptions struct {
	retry     *retry.Policy
	pageDelay time.Duration
}

type demo struct {
	name        string
	description string
	build       func(demoOptions) (*workflow.Graph, error)
	// trigger 解析 --trigger 的 JSON，为空时使用默认值
	trigger func(raw string) (any, error)
}

var demos = map[string]demo{
	"order": {
		name:        "order",
		description: "validate, price with retry, discount large orders",
		build:       func(o demoOptions) (*workflow.Graph, error) { return orderGraph(o.retry) },
		trigger: decodeTrigger(OrderRequest{
			Customer: "acme",
			Items: []LineItem{
				{SKU: "widget", Quantity: 4, UnitPrice: 19.5},
				{SKU: "gadget", Quantity: 1, UnitPrice: 42},
			},
		}),
	},
	"support": {
		name:        "support",
		description: "suspend for a missing priority, then assign",
		build:       func(demoOptions) (*workflow.Graph, error) { return supportGraph() },
		trigger:     decodeTrigger(SupportTicket{Subject: "checkout is down", Body: "customers see a 502"}),
	},
	"report": {
		name:        "report",
		description: "render pages asynchronously with progress",
		build:       func(o demoOptions) (*workflow.Graph, error) { return reportGraph(o.pageDelay) },
		trigger:     decodeTrigger(ReportRequest{Name: "q3-summary", Pages: 5}),
	},
}

func decodeTrigger[T any](def T) func(string) (any, error) {
	return func(raw string) (any, error) {
		if raw == "" {
			return def, nil
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode trigger: %w", err)
		}
		return v, nil
	}
}

func lookupDemo(name string) (demo, error) {
	d, ok := demos[name]
	if !ok {
		return demo{}, fmt.Errorf("unknown demo %q (available: %s)", name, strings.Join(demoNames(), ", "))
	}
	return d, nil
}

func demoNames() []string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// registerDemos 注册全部示例，使 resume/status 能接管其他进程启动的实例
func registerDemos(e *workflow.Engine, opts demoOptions) error {
	for _, name := range demoNames() {
		g, err := demos[name].build(opts)
		if err != nil {
			return fmt.Errorf("build %s: %w", name, err)
		}
		if err := e.Register(g); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}
