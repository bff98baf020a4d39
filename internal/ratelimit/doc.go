// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package ratelimit 提供按键隔离的令牌桶限流注册表。

每个键（下游服务类别、agent id 或客户端 IP）拥有独立的
golang.org/x/time/rate 令牌桶。[Registry.Wait] 阻塞直到获得令牌或
context 取消，[Registry.Allow] 非阻塞地返回 [ErrLimited]。
长时间未使用的键由 [Registry.StartJanitor] 后台回收。
*/
package ratelimit
