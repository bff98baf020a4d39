// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 docstore 提供会话的被动文档记录：防抖调度、详细记录与压缩上下文。

# 核心组件

  - Store: 文档存储接口，AppendDetail / FetchLatestDetail /
    FetchCompressedContext / SaveCompressedContext。
  - MemoryStore: 内存实现，用于测试与演示。
  - SQLStore: 基于 GORM 的 documentation_entries 表，适用于 sqlite、postgres、mysql。
  - Debouncer: 每个会话一个可取消定时器，突发通知只触发最后一次；
    Immediate 同步执行；Action 的错误与 panic 只记录日志。
  - Documenter: 防抖动作本身。把上次刷新以来的消息写成详细记录，
    再更新压缩上下文（配置了摘要模型时由模型生成，否则机械截断）。
    写入经过 "docs" 限流键与重试熔断。

Documenter 实现 conversation.ContextSource，可直接作为 ContextManager 的压缩来源。
*/
package docstore
