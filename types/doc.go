// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 flowgraph 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、persistence、
config 等上层模块提供统一的错误契约。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 StepID、Retryable 标记与 Cause 链

# 主要能力

  - 错误工具链：NewError / Errorf / AsError / IsErrorCode / IsRetryable
*/
package types
