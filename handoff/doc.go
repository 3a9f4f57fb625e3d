// Copyright (c) RelayFlow Authors.
// Licensed under the MIT License.

/*
Package handoff 提供机器人与人工操作员之间的会话转接引擎。

# 概述

handoff 解决的核心问题是：当自动化机器人无法继续处理一段会话时，如何把
会话安全地移交给人工操作员、在两条独立线程（用户线程与操作员线程）之间
双向转发消息，并在结束后把会话交还给机器人。它组合了持久化状态机、跨进程
复制的线程索引缓存、自动负载均衡分配与超时回收逻辑。

# 核心模型

  - Handoff           — 转接记录：状态、用户线程三元组、操作员线程与分配信息
  - Agent             — 操作员：在线状态（滑动过期）、角色、展示信息
  - Comment           — 操作员批注（仅追加）
  - AssignmentRecord  — 分配审计记录（assigned / reassigned）
  - Message           — 线程消息日志，支撑历史复制与只读查询

# 主要组件

  - ValidateTransition — 纯函数状态机：pending → assigned → {resolved, rejected}
  - ThreadCache        — (botID, threadID) → handoffID 的有界 LRU+TTL 索引，
    变更通过 Broadcaster 广播到集群内其他进程；可从存储层整体重建（warm-up）
  - Middleware         — 路由中间件：缓存查表、方向判定、消息转发
  - Service            — 生命周期编排：创建、分配、解决、驳回、交还机器人；
    分配引擎亦在其上：最空闲在线操作员选择、批量重分配、超时处理

# 一致性约定

缓存永远不是正确性来源：缺失或陈旧的条目只会让消息回落到普通机器人流程，
绝不会被路由到错误的一方。所有状态变更先经状态机校验、写入存储，再更新
缓存，最后发出实时通知。
*/
package handoff
