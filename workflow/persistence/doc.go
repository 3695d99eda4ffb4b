// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 persistence 为工作流引擎提供 Redis 与 SQL 两类持久化后端。

# 概述

引擎只依赖 workflow 包中的三个契约：

  - InstanceStore: 按 instanceId 保存/加载实例记录，并按状态建立索引。
  - SuspensionRepository: 暂停数据，同时支持按实例与按消息 ID 查找。
  - ProgressTracker: 异步任务进度，终态不可再变更。

本包给出它们的 Redis（go-redis）与 SQL（gorm）实现，
并通过 NewBackends 按配置选择后端。

# 后端实现

  - Redis: JSON 值 + Sorted Set 状态索引，MULTI/EXEC 保证多键写入的原子性，
    进度更新使用 WATCH 乐观锁。
  - SQL: gorm 模型映射到 workflow_instances / workflow_suspensions /
    workflow_task_progress 三张表，表结构由 internal/migration 管理；
    支持 postgres、mysql 与 sqlite（glebarez 纯 Go 驱动）。

# 使用方式

	backends, err := persistence.NewBackends(persistence.Options{
		Type:  persistence.StoreTypeRedis,
		Redis: client,
	})
	engine, err := workflow.NewEngine(logger, backends.EngineOptions()...)
*/
package persistence
