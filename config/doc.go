// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 FlowGraph 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量名由前缀与各字段 env 标签拼接而成，例如
// FLOWGRAPH_STORE_TYPE、FLOWGRAPH_RETRY_MAX_ATTEMPTS。
// Validate 基于 validator/v10 结构体标签校验各配置段。
package config
