// 版权所有 2025 RelayFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP 请求、路由决策、状态转换、分配结果、缓存命中与实时推送。

# 概述

Collector 通过 promauto 在默认注册表注册所有指标，命名空间
统一为 relayflow，按子系统（http/routing/handoff/cache/realtime）
分组。引擎各层通过小接口依赖 Collector，便于测试时替换。

# 核心类型

  - Collector：指标采集器，持有全部 CounterVec/HistogramVec/Gauge。

# 主要能力

  - HTTP 观测：按方法/路径/状态码统计请求数与时延分布。
  - 路由观测：middleware 每次路由决策按结果计数。
  - 生命周期观测：状态转换与分配动作按来源/结果计数。
  - 缓存观测：命中/未命中计数，推导本地缓存有效性。
  - 实时观测：WebSocket 连接数、增量广播数与 Webhook 投递结果。
*/
package metrics
