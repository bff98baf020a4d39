// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供入站事件去重所需的键占用能力。

聊天平台的 webhook 以至少一次语义重投事件，同一 event id 只应进入
编排一次。Claimer 抽象一次性占用：Manager 基于 go-redis 的 SET NX，
多实例部署共享去重状态；MemoryClaimer 为单进程部署的内存实现。
*/
package cache
