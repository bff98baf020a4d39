// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 Roundtable 会话编排服务的程序入口。

# 概述

cmd/roundtable 把配置、代理注册表、弹性组件、会话存储、文档服务与
编排器装配成一个进程，对外暴露事件入口与操作员 API，并提供数据库
迁移、令牌签发、健康检查和版本查询等子命令。

# 核心类型

  - App：组件装配与生命周期，Routes 返回业务路由
  - Server：管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、token、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、Metrics、RateLimiter（基于 IP）、JWTAuth（HS256）
  - 持久化：memory、file 或 redis 快照，启动时重新加载未结束的会话
  - 优雅关闭：信号监听 → 关闭 HTTP → 停止编排并刷新文档 → 关闭 Metrics → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
