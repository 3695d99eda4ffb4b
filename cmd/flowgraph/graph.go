package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/BaSui01/flowgraph/workflow/retry"
)

func runGraph(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("graph", flag.ContinueOnError)
	fs.SetOutput(out)
	demoName := fs.String("demo", "order", "Demo workflow to export")
	format := fs.String("format", "mermaid", "Output format: json, yaml, mermaid")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := lookupDemo(*demoName)
	if err != nil {
		return err
	}
	// 导出只关心结构，不读取配置
	g, err := d.build(demoOptions{
		retry:     retry.DefaultPolicy(),
		pageDelay: time.Millisecond,
	})
	if err != nil {
		return err
	}

	desc := g.Describe()
	var text string
	switch *format {
	case "json":
		text, err = desc.ToJSON()
	case "yaml":
		text, err = desc.ToYAML()
	case "mermaid":
		text = desc.ToMermaid()
	default:
		return fmt.Errorf("unknown format %q (json, yaml, mermaid)", *format)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, text)
	return nil
}
