// Copyright (c) RelayFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 RelayFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 RelayFlow 所有 HTTP 端点的请求处理逻辑，
包括转接生命周期操作、操作员管理、消息日志查询、健康检查
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - HandoffHandler   — 转接 CRUD、分配/重新分配、解决/拒绝、标签与备注
  - AgentHandler     — 操作员注册、列表与在线状态切换（下线触发批量重分配）
  - MessageHandler   — 按线程查询持久化消息日志
  - HealthHandler    — 服务健康检查（/health, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）
  - ErrorCode → HTTP 状态码自动映射（400/401/403/404/409/422/503/500）
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
