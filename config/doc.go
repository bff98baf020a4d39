// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 Roundtable 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序合并，
// 环境变量名由前缀与各级 env 标签用下划线拼接而成，
// 例如 ROUNDTABLE_CONVERSATION_BATCH_WINDOW=5s。
// Agent 定义只能通过 YAML 的 llm.agents 配置。
package config
