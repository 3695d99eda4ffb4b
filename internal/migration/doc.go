// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理工作流持久化表结构的版本化迁移，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

# 表结构

迁移文件按方言内嵌在 migrations/<dialect>/ 下：

  - 000001：workflow_instances 与 workflow_suspensions，
    分别保存实例快照与挂起记录（message_id 唯一）。
  - 000002：workflow_task_progress，异步任务进度。

列定义与 workflow/persistence 的 gorm 模型一致，迁移后的库可直接交给
SQL 后端使用；测试环境也可以改用 persistence.Models() 做 AutoMigrate。

# 使用

  - NewMigrator / NewMigratorFromConfig / NewMigratorFromURL 创建迁移器；
  - Migrator 提供 Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info；
  - CLI.Run 解析 flowgraph migrate 的子命令并格式化输出。

SQLite 连接使用纯 Go 的 glebarez 驱动，与 gorm 侧共享驱动注册，无需 cgo。
*/
package migration
