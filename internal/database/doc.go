// 版权所有 2025 RelayFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供数据库连接生命周期管理。

# 概述

本包封装 GORM 连接的创建与池化配置，支持 PostgreSQL（生产）
与 SQLite（开发/测试）两种驱动，由配置中的 driver 字段选择。
GORM 自身日志被静默，SQL 层问题通过上层 zap 日志与健康检查暴露。

# 主要能力

  - 驱动选择：postgres / sqlite 方言按配置构造。
  - 连接池：MaxOpenConns、MaxIdleConns、ConnMaxLifetime 透传。
  - 健康检查：Ping 带上下文超时，供 /ready 端点使用。
  - 优雅关闭：Close 释放底层 sql.DB。
*/
package database
