// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的会话编排指标采集。

# 概述

Collector 通过 promauto 注册全部指标，按 namespace 隔离。
nil *Collector 的方法都是空操作，调度器、文档器等组件可以不接指标运行。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - Agent 调用：按 agent/status 计数，耗时直方图，token 与费用累计。
  - 会话：每轮调度结果、各状态会话数 Gauge、状态迁移与主持人干预计数。
  - 熔断与限流：每个目标的熔断状态 Gauge 与迁移计数，限流拒绝计数。
  - 文档与快照：刷新次数（debounced/immediate）与快照写入耗时。
*/
package metrics
