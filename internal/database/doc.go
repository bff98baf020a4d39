// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 为文档存储提供基于 GORM 的数据库连接与连接池管理。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close()；后台健康检查定时探活，Close 时退出。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。
  - Open / Dialector：按驱动名（postgres、mysql、sqlite）选择 GORM 方言，
    sqlite 使用纯 Go 的 glebarez/sqlite。
*/
package database
