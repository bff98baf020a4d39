// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供会话快照的持久化存储抽象及多后端实现。

# 概述

会话存储本身位于内存中（agent/conversation）。本包把每次更新后的会话快照
写入可插拔后端，使服务重启后可以通过 Rehydrate 重建内存状态。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - SnapshotStore: 快照接口，支持保存（覆盖写）、按 id 读取、全量读取、
    删除与过期清理。其 Save 方法签名与 conversation.Snapshotter 一致，
    可直接通过 conversation.WithSnapshotter 接入。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - File: 每个会话一个 JSON 文件，临时文件加 rename 原子写入，适合单节点部署。
  - Redis: <prefix>conv:<id> 存 JSON，<prefix>conv:index 集合记录全部 id，
    SET 与 SADD 在同一事务管道内提交；终止态会话按保留期设置过期时间。

# 使用方式

	snapshots, err := persistence.NewSnapshotStore(config)
	store := conversation.NewStore(logger, conversation.WithSnapshotter(snapshots))
	n, err := persistence.Rehydrate(ctx, snapshots, store, logger)
	persistence.StartCleanup(ctx, snapshots, config.Cleanup, nil, logger)
*/
package persistence
