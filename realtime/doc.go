// Copyright (c) RelayFlow Authors.
// Licensed under the MIT License.

/*
Package realtime 提供转接状态变更的实时扇出能力。

# 概述

realtime 包把引擎产生的增量（delta）推送给监控界面与外部系统。
Hub 管理 WebSocket 客户端集合并向所有连接广播 JSON 增量；
WebhookSink 以限速异步 POST 的方式把同一份增量投递到配置的 URL。
两条通路都是尽力而为的：慢客户端被断开、超限投递被丢弃，
引擎本身永远不会因为观察者而阻塞。

# 核心类型

  - Hub         — WebSocket 广播中心，实现 handoff.Realtime
  - WebhookSink — 出站 Webhook 投递器，带 rate.Limiter 限速

# 主要能力

  - 非阻塞广播：每客户端带缓冲发送队列，写满即断开
  - 慢客户端保护：投递失败的连接被移出集合并关闭
  - Webhook 限速：超过配置速率的增量直接丢弃而非排队
  - 指标上报：连接数、增量数与 Webhook 投递结果
*/
package realtime
