// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接池管理，服务于 SQL 持久化后端。

# 概述

PoolManager 封装 GORM 与 database/sql 的连接池配置，统一管理连接
生命周期、空闲回收与最大连接数限制。后台健康检查定时探活，探活成功后
通过 StatsFunc 回调上报连接数，供 Prometheus 指标使用。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB/Ping/Stats/GetStats/Close。
  - PoolConfig：连接池配置，可由 FromDatabaseConfig 从应用配置转换。
  - PoolStats：友好格式的连接池统计信息。
*/
package database
