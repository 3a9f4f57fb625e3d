// Copyright (c) RelayFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 RelayFlow 引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 handoff、api、realtime
等上层模块提供统一的类型契约。所有跨包共享的事件结构、错误码和负载类型
均定义于此，以避免循环依赖。

# 核心类型

  - Event              — 消息管道事件（BotID、ThreadID、方向、负载）
  - EventPayload       — 会话负载的带标签联合类型（文本/图片/文件/视频/语音）
  - Error / ErrorCode  — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 错误工具链：IsNotFound / IsValidation / GetErrorCode
  - 负载判定：Event.IsConversational（路由中间件的第一道过滤）
  - 附件规范化：Attachment 统一 URL/Title 形态，供双向管道渲染
*/
package types
