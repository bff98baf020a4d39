// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 moderation 实现会话的规划与主持。

# 规划

[Planner] 负责 planning 状态：

  - Begin：分析开场消息，最多提出 MaxQuestions 个澄清问题；没有问题时直接生成计划。
    同一会话的并发调用通过 singleflight 共享一次 AI 调用。
  - HandleReply：批准关键字直接启动；其他回复记为回答并重建计划。
  - BuildPlan：AI 返回 {expanded_topic, plan, objectives, parameters}，
    解析失败时退回默认计划（原话题加默认参数），不会阻塞规划。
  - ApproveAndStart：把协商参数写入生效限额，初始化主持状态，进入 active。
  - ExpirePlanning：规划超过 Timeout（默认 30 分钟）的会话被停止，并追加告别消息。

# 主持

[Moderator.Observe] 对 active 会话的每条消息：更新发言统计；每 CheckInterval
条消息用最近 DriftWindow 条消息做一次偏离检测。偏离分数超过阈值时累计警告，
警告次数内发出引导消息，超出后发出过度偏离警告，回到正题则清零。偏离本身
不会终止会话；最后执行限额检查，超限则停止会话并发出结束语。

AI 输出一律“尝试结构化解析，失败则返回确定的默认值”，不会中断外层流程。
*/
package moderation
