package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GraphDescriptor is a serializable view of a Graph.
type GraphDescriptor struct {
	ID            string           `json:"id" yaml:"id"`
	Version       string           `json:"version,omitempty" yaml:"version,omitempty"`
	InputType     string           `json:"input_type" yaml:"input_type"`
	OutputType    string           `json:"output_type" yaml:"output_type"`
	InitialStepID string           `json:"initial_step_id" yaml:"initial_step_id"`
	Nodes         []NodeDescriptor `json:"nodes" yaml:"nodes"`
	Edges         []EdgeDescriptor `json:"edges" yaml:"edges"`
	HasCycles     bool             `json:"has_cycles" yaml:"has_cycles"`
	Topological   []string         `json:"topological_order,omitempty" yaml:"topological_order,omitempty"`
	Unreachable   []string         `json:"unreachable,omitempty" yaml:"unreachable,omitempty"`
}

// NodeDescriptor describes a StepNode.
type NodeDescriptor struct {
	ID              string `json:"id" yaml:"id"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	InputType       string `json:"input_type" yaml:"input_type"`
	OutputType      string `json:"output_type" yaml:"output_type"`
	Initial         bool   `json:"initial,omitempty" yaml:"initial,omitempty"`
	MaxAttempts     int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	InvocationLimit int    `json:"invocation_limit,omitempty" yaml:"invocation_limit,omitempty"`
	OnLimit         string `json:"on_limit,omitempty" yaml:"on_limit,omitempty"`
	CompletionStep  string `json:"completion_step,omitempty" yaml:"completion_step,omitempty"`
}

// EdgeDescriptor describes an Edge.
type EdgeDescriptor struct {
	From        string   `json:"from" yaml:"from"`
	To          string   `json:"to" yaml:"to"`
	Type        EdgeType `json:"type" yaml:"type"`
	EventType   string   `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Describe builds a descriptor of g including cycle diagnostics.
func (g *Graph) Describe() *GraphDescriptor {
	d := &GraphDescriptor{
		ID:            g.id,
		Version:       g.version,
		InputType:     TypeName(g.inputType),
		OutputType:    TypeName(g.outputType),
		InitialStepID: g.initialStepID,
		HasCycles:     g.HasCycles(),
		Unreachable:   g.UnreachableNodes(),
	}
	if order, err := g.TopologicalSort(); err == nil {
		d.Topological = order
	}
	for _, n := range g.Nodes() {
		nd := NodeDescriptor{
			ID:              n.id,
			Description:     n.description,
			InputType:       TypeName(n.InputType()),
			OutputType:      TypeName(n.OutputType()),
			Initial:         g.IsInitial(n.id),
			InvocationLimit: n.invocationLimit,
			OnLimit:         string(n.onLimit),
			CompletionStep:  n.completionStepID,
		}
		if n.retryPolicy != nil {
			nd.MaxAttempts = n.retryPolicy.MaxAttempts
		}
		d.Nodes = append(d.Nodes, nd)
		for _, e := range g.edges[n.id] {
			ed := EdgeDescriptor{From: e.From, To: e.To, Type: e.Type, Description: e.Description}
			if e.EventType != nil {
				ed.EventType = TypeName(e.EventType)
			}
			d.Edges = append(d.Edges, ed)
		}
	}
	return d
}

// ToJSON renders the descriptor as indented JSON.
func (d *GraphDescriptor) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML renders the descriptor as YAML.
func (d *GraphDescriptor) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// ToMermaid renders the graph as a mermaid flowchart.
func (d *GraphDescriptor) ToMermaid() string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")
	for _, n := range d.Nodes {
		label := n.ID
		if n.Description != "" {
			label = n.ID + ": " + n.Description
		}
		if n.Initial {
			fmt.Fprintf(&sb, "    %s([%q])\n", mermaidID(n.ID), label)
		} else {
			fmt.Fprintf(&sb, "    %s[%q]\n", mermaidID(n.ID), label)
		}
	}
	for _, e := range d.Edges {
		arrow := "-->"
		switch e.Type {
		case EdgeError:
			arrow = "-.->"
		case EdgeParallel:
			arrow = "==>"
		}
		label := string(e.Type)
		switch {
		case e.EventType != "":
			label = e.EventType
		case e.Description != "":
			label = e.Description
		}
		fmt.Fprintf(&sb, "    %s %s|%q| %s\n", mermaidID(e.From), arrow, label, mermaidID(e.To))
	}
	return sb.String()
}

func mermaidID(id string) string {
	return strings.NewReplacer("-", "_", " ", "_", ".", "_", "/", "_").Replace(id)
}
