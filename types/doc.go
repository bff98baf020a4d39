// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 roundtable 编排核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、agent、api 等上层模块
提供统一的数据契约：会话聚合根、消息、Agent 调用结果与结构化错误码。

# 核心类型

  - Conversation：会话聚合根（状态、消息序列、Agent 集合、成本与计数器）
  - Status：生命周期状态 planning / active / paused / completed / stopped
  - Message：不可变消息（作者类型、回复引用、Token 计数）
  - AgentResult：单次 Agent 调用结果（文本、Token、成本）
  - PlanningState：规划阶段状态（澄清问题、草案、协商参数）
  - ModerationState：主持状态（话题偏移计数、参与者统计、质量分）
  - CostTracking：成本累计（总额 + 按 Agent 拆分）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - 状态机校验：CanTransition 约束合法迁移，终态不可再迁移
  - Context 传播：WithTraceID / WithOperatorID / WithConversationID
  - 错误工具链：NewError / IsRetryable / GetErrorCode
*/
package types
