// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 dispatch 决定每条已接受的消息是否需要 Agent 回复，并以有界并发执行一轮回复。

# 轮流发言

[ShouldRespond] 对人类消息总是返回 true；对 Agent 消息，只有最近
MaxResponsesPerTurn 条消息里 Agent 消息仍少于该上限时才返回 true，
从而限制 Agent 之间的连锁对话。

[BatchWindow] 按会话保留最近 BatchWindow 时长内收到的消息 id，
新回复最多引用其中 5 条作为 replyToIDs。

# 一轮调度

[Coordinator.RunTurn] 的流程：

 1. 可调度 Agent = 已选择 − 已禁用；为空时拒绝调度
 2. errgroup + SetLimit 控制并发（默认 3），按选择顺序启动
 3. 每个 Agent：费用预检（已达上限则暂停会话并跳过）→ 经
    resilience.Execute 以 agent id 为熔断键调用 → 在会话锁下累计费用、
    追加消息并复检上限（超限则暂停，但保留刚生成的消息）
 4. 单个 Agent 失败只记录日志，不影响本轮其他结果
 5. 生成的消息逐条投递，单条投递失败不阻塞其余消息

每次 Agent 调用都会创建 OpenTelemetry span 并记录 Prometheus 指标。
*/
package dispatch
