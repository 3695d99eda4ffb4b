// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑。
//
// 引擎通过 Providers.TracerProvider 为每个运行段与步骤创建 span，
// RunMeter 把运行段与步骤结果记录为 OTel 指标。遥测禁用时返回 noop
// 实现，不连接任何外部服务。
package telemetry
