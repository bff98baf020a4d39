// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 Roundtable HTTP API 的请求处理器实现。

# 概述

handlers 包把聊天平台转发的入站消息与操作员的控制信号翻译为
编排器调用，并提供健康检查与统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22 的
方法 + 路径模式注册。

# 核心类型

  - ConversationHandler：入站事件、会话查询与控制信号
  - ConversationService：编排器抽象，便于以假实现测试
  - HealthHandler：存活与就绪检查（/healthz, /ready）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteServiceError
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（404 未找到、409 状态冲突、402 费用超限、503 熔断）
  - 入站事件按 event_id 去重（cache.Claimer），去重存储故障时照常处理
  - 就绪检查并发执行，并附带按状态统计的会话数量
*/
package handlers
