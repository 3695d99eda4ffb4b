// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
flowgraph 是工作流引擎的命令行入口。

# 子命令

  - run: 启动内置示例工作流（order、support、report），按需恢复挂起与等待异步任务
  - resume: 以消息 ID 提交答案，恢复挂起的实例
  - status: 查看持久化实例的状态、执行历史与任务进度
  - graph: 以 json、yaml 或 mermaid 导出示例图
  - migrate: 执行内嵌的数据库迁移
  - version: 输出构建信息

# 装配

runtime 按配置依次初始化 telemetry、Prometheus 指标、存储后端
（memory、redis、sql）与引擎，并在 metrics.addr 非空时启动
/metrics 与 /healthz 端点。关闭时按逆序释放。
*/
package main
