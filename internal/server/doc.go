// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 提供 flowgraph 进程的运维 HTTP 端点。

Manager 在独立端口上暴露：

  - /metrics：prometheus Gatherer 的指标，来自 internal/metrics.Collector；
  - /healthz：依次执行通过 AddCheck 注册的健康检查（redis、数据库等），
    任一失败时返回 503 与失败明细。

Start 非阻塞；WaitForShutdown 在收到信号或 ctx 结束后优雅关闭。
*/
package server
