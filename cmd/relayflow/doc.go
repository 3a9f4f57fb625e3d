// Copyright (c) RelayFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 RelayFlow 服务端程序入口。

# 概述

cmd/relayflow 是 RelayFlow 引擎的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及 WebSocket 实时推送。

# 核心类型

  - Server        — 主服务器，组装存储/缓存/分配引擎并管理双端口优雅关闭
  - HTTPConnector — 消息管道连接器，负责事件投递、线程创建与会话清理
  - Middleware    — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、RequestLogger、Metrics
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 关闭总线与存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
