// Copyright (c) RelayFlow Authors.
// Licensed under the MIT License.

/*
Package config 提供 RelayFlow 的统一配置加载与校验。

# 概述

配置来源按优先级依次为：内置默认值、YAML 配置文件、RELAYFLOW_* 环境变量。
Loader 采用 Builder 模式组装，Validate 在服务启动前做一次性校验。

# 配置分区

  - ServerConfig     — HTTP / Metrics 端口与超时
  - DatabaseConfig   — GORM 数据源（postgres / sqlite）
  - RedisConfig      — 线程缓存跨进程广播总线
  - CacheConfig      — 本地 LRU 容量、TTL 与对账间隔
  - AssignmentConfig — 自动分配、历史复制窗口、会话超时
  - MessagesConfig   — 按语言分组的用户通知模板
  - WebhookConfig    — 管理端事件出站推送
  - LogConfig        — zap 日志级别与编码
*/
package config
