// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package resilience 组合重试与按目标熔断，为每次 Agent 调用提供统一的容错入口。

组合顺序为熔断包裹重试：熔断器只看到重试耗尽后的最终结果，
因此一次熔断"失败"对应一次完整重试后仍失败的调用。熔断打开时
直接返回 [circuitbreaker.OpenError]，不会进入重试。
*/
package resilience
