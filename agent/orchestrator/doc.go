// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 orchestrator 是会话编排的入口，把规划、主持、调度与文档记录串成完整流程。

# 入站消息

HandleIncoming 先按频道查找或创建会话（新频道进入 planning），
把消息追加到历史（任何状态都会追加，便于审计），然后：

  - planning: 首条消息启动规划，其后的消息作为回答或批准关键字；
  - active: 主持人检查偏离与限额，需要时调度一轮回复，
    Agent 回复同样经过主持，并按 FollowUpRounds 与轮次上限连锁调度；
  - paused / stopped / completed: 不做处理。

同一会话的处理串行执行，不同会话并行。处理结束后安排防抖文档刷新，
消息数超过压缩阈值时先同步刷新文档再压缩上下文。

# 控制信号

ApproveAndStart、Resume（费用仍超限时以 COST_LIMIT_EXCEEDED 拒绝）、
Stop（单个 Agent 或 "all"）、EditPlanningMessage、Complete。

# 定期检查

Sweep 停止规划超时的会话与空闲超时的 active 会话，Start 按 SweepInterval 周期运行。
*/
package orchestrator
