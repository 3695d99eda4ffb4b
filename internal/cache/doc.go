// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 管理 FlowGraph 共享的 Redis 连接。

# 概述

Manager 负责连接生命周期：初始化时 Ping 校验、后台定时健康检查、
优雅关闭。持久化后端（实例存储、挂起仓库、进度跟踪器）通过
Manager.Client 共享同一个客户端与连接池。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Client/Ping/Healthy/PoolStats/Close。
  - Config：地址、密码、库号、连接池大小与健康检查间隔，
    可由 FromRedisConfig 从应用配置转换。
*/
package cache
