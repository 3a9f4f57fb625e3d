// 版权所有 2025 RelayFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与信号监听。

# 概述

Manager 持有一个 http.Server 并将启动错误通过 channel 上报，
主流程可以同时等待系统信号与服务器错误。关闭时先尝试带超时的
Shutdown 排空在途请求，超时后强制 Close。

# 核心类型

  - Manager：服务器管理器，Start/Shutdown/WaitForShutdown。
  - Config：监听地址与读写/空闲/关闭超时。

# 主要能力

  - 非阻塞启动：Start 先 Listen 后异步 Serve，端口冲突立即报错。
  - 信号处理：WaitForShutdown 监听 SIGINT/SIGTERM。
  - 优雅关闭：ShutdownTimeout 内排空连接，超时强制断开。
*/
package server
