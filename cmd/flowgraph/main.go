// =============================================================================
// flowgraph 命令行入口
// =============================================================================
// 使用方法:
//
//	flowgraph run --demo order                # 运行内置示例工作流
//	flowgraph run --demo support --answer '{"level":2}'
//	flowgraph resume --message-id <id> --answer '{"level":1}'
//	flowgraph status --instance <id>          # 查看实例状态
//	flowgraph graph --demo report --format mermaid
//	flowgraph migrate up                      # 运行数据库迁移
//	flowgraph version
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"
)

// 构建时通过 ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := dispatch(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// dispatch 按子命令分派，所有输出写入 out
func dispatch(args []string, out io.Writer) error {
	if len(args) == 0 {
		printUsage(out)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "run":
		return runDemo(args[1:], out)
	case "resume":
		return runResume(args[1:], out)
	case "status":
		return runStatus(args[1:], out)
	case "graph":
		return runGraph(args[1:], out)
	case "migrate":
		return runMigrate(args[1:], out)
	case "version":
		printVersion(out)
		return nil
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "flowgraph %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `flowgraph - durable graph workflow engine

Usage:
  flowgraph <command> [options]

Commands:
  run       Start a built-in demo workflow (order, support, report)
  resume    Answer a suspended run by its message id
  status    Show a persisted workflow instance
  graph     Export a demo graph as json, yaml or mermaid
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --demo <name>       Demo workflow: order, support, report (default: order)
  --trigger <json>    Trigger payload overriding the demo default
  --answer <json>     Answer to submit if the run suspends
  --timeout <dur>     How long to wait for async work (default: 30s)
  --migrate           Apply database migrations before running (store.type=sql)
  --hold              Keep serving /metrics and /healthz until interrupted

Examples:
  flowgraph run --demo report
  FLOWGRAPH_STORE_TYPE=redis flowgraph run --demo support
  flowgraph resume --message-id 6f1c... --answer '{"level":1}'
  flowgraph graph --demo order --format yaml
  flowgraph migrate status`)
}
