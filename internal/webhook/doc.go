// Package webhook 把会话产生的出站消息以 HTTP POST 投递到单一回调地址。
//
// 请求体为 JSON 的 Payload；配置了密钥时附带 X-Roundtable-Signature
// 头（body 的 HMAC-SHA256），接收方可用 Verify 校验。重试由调用方的
// 投递重试器负责，Transport 只负责把状态码归类为可重试与不可重试。
package webhook
