// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的工作流运行指标采集。

# 概述

Collector 同时实现 workflow.StepListener、workflow.RunListener 与
retry.Listener，挂到 Engine 后即可记录每个运行段、每次步骤执行和
每次重试。所有指标按 namespace 隔离，使用 promauto 自动注册。

# 主要指标

  - workflow_runs_total / workflow_run_duration_seconds：按 workflow_id 与结束状态分组。
  - workflow_steps_total / workflow_step_duration_seconds：按步骤与结果类型分组，
    失败记为 outcome="error"。
  - workflow_steps_in_flight：正在执行的步骤数。
  - workflow_suspensions_total、workflow_async_tasks_total：挂起与后台任务计数。
  - workflow_retry_events_total：retry/success/exhausted/aborted 事件。
  - db_connections_open / db_connections_idle：SQL 连接池状态。
*/
package metrics
