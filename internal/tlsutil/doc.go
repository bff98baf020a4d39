// Package tlsutil 提供集中式 TLS 配置，
// 为 LLM 提供方客户端与出站 webhook 提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
//
// SecureHTTPClient 通过 ClientOption 调整空闲连接数、私有根证书与重定向策略。
package tlsutil
