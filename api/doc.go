// Package api 定义 Roundtable HTTP API 的请求与响应类型。
//
// # API 概览
//
// Roundtable 通过 REST 接口接收聊天平台的入站消息并暴露会话控制：
//   - POST /v1/events                              入站消息（支持 event_id 去重）
//   - GET  /v1/conversations[?status=]             会话列表
//   - GET  /v1/conversations/{id}                  完整会话
//   - GET  /v1/conversations/{id}/documentation    最近的详细记录与压缩上下文
//   - POST /v1/conversations/{id}/approve          批准计划并开始
//   - POST /v1/conversations/{id}/resume           恢复暂停的会话
//   - POST /v1/conversations/{id}/stop             停用 Agent 或停止会话
//   - POST /v1/conversations/{id}/complete         以结论结束会话
//   - PUT  /v1/conversations/{id}/plan             编辑计划文本
//   - GET  /healthz, /ready, /version              健康检查
//
// 指标在独立端口的 /metrics 上暴露。
//
// # 认证
//
// 启用认证时 /v1 下的接口需要 Bearer JWT：
//
//	Authorization: Bearer <token>
package api
