// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供基于图的持久化工作流执行引擎。

# 概述

工作流由类型化的步骤（StepNode）和有向边（Edge）组成。每个步骤消费一个
输入值并返回一个 StepResult：Continue、Branch、Fail、Finish、Suspend 或
Async。引擎根据结果类型与边的声明选择下一个步骤，直到运行完成、失败、
挂起等待外部回答，或等待后台任务完成。

# 核心类型

  - GraphBuilder    : 以显式 ID 注册步骤并编译为不可变的 Graph
  - Graph           : 校验入口、边端点、可达性；HasCycles / TopologicalSort 仅用于诊断
  - Router          : 条件边、类型匹配边、类型导向搜索、顺序边兜底
  - InputResolver   : 恢复输入 > 历史输出（精确类型优先）> 上下文输出 > 触发数据
  - Engine          : Start / Resume / OnComplete / OnError / CancelTask
  - BranchExecutor  : 在单个节点内顺序执行子步骤
  - ParallelBranch  : 在单个节点内并发执行子步骤并聚合结果

# 持久化

InstanceStore、SuspensionRepository 与 ProgressTracker 定义了持久化契约，
本包提供内存实现，workflow/persistence 提供 Redis 与 SQL 实现。
步骤输出通过 TypeRegistry 以 {type, data} 形式编码，保证实例无损往返。

# 并发模型

同一实例的执行严格串行（按实例 ID 加锁），不同实例可以并发执行。
异步任务在工作池中运行，完成事件经 CompletionBus（watermill）回到引擎，
再在实例锁内重新进入图。监听器只接收上下文快照，不接触运行中的状态。
*/
package workflow
