// 版权所有 2025 RelayFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis Pub/Sub 的缓存广播总线。

# 概述

本包是线程缓存的跨进程复制通道：任意进程上的缓存变更通过
Pub/Sub 传播到集群内所有对等进程，使每个进程的本地 LRU 缓存
保持近似一致。投递是尽力而为的——丢失一条消息只意味着下次
路由查询多走一次存储层，绝不会导致错误路由。

# 核心类型

  - RedisBus：广播总线，持有 go-redis 客户端与订阅循环，
    提供 Publish/Subscribe/Ping/Close。
  - Config：总线配置，包含地址、密码、连接池大小与频道名。

# 主要能力

  - 发布订阅：单一频道上的字节消息广播，处理器可多次注册。
  - panic 隔离：单个处理器 panic 不影响其它处理器与订阅循环。
  - 连接验证：构造时 Ping 校验，失败立即返回错误。
  - 优雅关闭：Close 幂等，安全释放订阅与客户端连接。
*/
package cache
