// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义编排核心与 AI 参与者之间的能力边界。

# 概述

编排核心不关心模型服务商的接口差异，只依赖 [Agent]：
给定完整消息历史与系统提示，返回一条 [types.AgentResult]
（文本、token 用量与费用）。可重试的失败以 Retryable 的
[types.Error] 返回，由 llm/resilience 负责重试与熔断。

# 核心类型

  - [Agent]：AI 参与者接口，提供 ID / Respond
  - [AgentDefinition]：构建 Agent 的配置（provider、模型、价格）
  - [Pricing]：按输入/输出 token 计费
  - [Registry]：provider 工厂与 Agent 实例注册表
  - [ScriptedAgent]：脚本化 Agent，用于测试与 demo

# 相关子包

- llm/providers/openaicompat：OpenAI 兼容的 chat completions Agent。
- llm/retry：重试与退避策略。
- llm/circuitbreaker：按目标熔断。
- llm/resilience：熔断包裹重试的组合执行器。
- llm/tokenizer：token 计数。
*/
package llm
