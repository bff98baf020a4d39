// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理文档库（documentation_entries）的 Schema 版本，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

各方言的 SQL 迁移文件通过 embed.FS 内嵌；DefaultMigrator 提供
Up/Down/Version/Status，CLI 为 `roundtable migrate` 子命令提供
格式化输出。SQL 文档存储启动时仍会执行 GORM AutoMigrate，
迁移文件用于需要显式管理 Schema 的部署。
*/
package migration
