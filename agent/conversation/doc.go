// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 管理会话聚合根的生命周期与上下文。

# 概述

[Store] 是会话的唯一事实来源：每个会话拥有独立的互斥锁，
同一会话的所有写操作（追加消息、状态迁移等）在该锁下串行执行，
不同会话之间互不阻塞。读取方拿到的是深拷贝快照。

状态机由 types.CanTransition 校验：

	planning → active ⇄ paused
	active | paused → completed
	任意非终态 → stopped

# 上下文管理

[ContextManager] 负责：

  - Append：O(1) 追加消息并更新 messageCount / tokenCount / lastActivityAt
  - ShouldCompress / Compress：消息数超过阈值时，用外部文档存储提供的
    压缩上下文替换除最近 K 条以外的历史（获取失败时不做修改）
  - CheckLimits：依次检查消息数上限与会话超时

费用上限不在这里检查，由 agent/dispatch 在每次 Agent 调用完成后判断。
*/
package conversation
