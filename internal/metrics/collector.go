// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// nil *Collector 的所有 Record 方法均为空操作，组件可以不接指标。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Agent 调用指标
	agentCallsTotal   *prometheus.CounterVec
	agentCallDuration *prometheus.HistogramVec
	agentTokens       *prometheus.CounterVec
	agentCost         *prometheus.CounterVec

	// 会话指标
	turnsTotal            *prometheus.CounterVec
	turnResponses         prometheus.Histogram
	conversationsByStatus *prometheus.GaugeVec
	stateTransitions      *prometheus.CounterVec
	moderationEvents      *prometheus.CounterVec

	// 熔断与限流
	circuitState       *prometheus.GaugeVec
	circuitTransitions *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec

	// 文档与持久化
	docFlushes       *prometheus.CounterVec
	snapshotDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Agent 调用指标
	c.agentCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Total number of agent calls by outcome",
		},
		[]string{"agent", "status"},
	)

	c.agentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Agent call duration in seconds, retries included",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"agent"},
	)

	c.agentTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tokens_total",
			Help:      "Tokens consumed by agent calls",
		},
		[]string{"agent", "type"},
	)

	c.agentCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_cost_usd_total",
			Help:      "Accumulated agent cost in USD",
		},
		[]string{"agent"},
	)

	// 会话指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Dispatch turns by outcome",
		},
		[]string{"outcome"},
	)

	c.turnResponses = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_responses",
			Help:      "Agent responses appended per turn",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)

	c.conversationsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations",
			Help:      "Conversations currently in each status",
		},
		[]string{"status"},
	)

	c.stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_transitions_total",
			Help:      "Conversation state transitions",
		},
		[]string{"from", "to"},
	)

	c.moderationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_events_total",
			Help:      "Moderator interventions by kind",
		},
		[]string{"kind"},
	)

	// 熔断与限流
	c.circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state per target (0=closed, 1=open, 2=half-open)",
		},
		[]string{"target"},
	)

	c.circuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state changes",
		},
		[]string{"target", "from", "to"},
	)

	c.rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected or delayed by a rate limiter",
		},
		[]string{"scope"},
	)

	// 文档与持久化
	c.docFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documentation_flushes_total",
			Help:      "Documentation flushes by trigger and outcome",
		},
		[]string{"trigger", "status"},
	)

	c.snapshotDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Conversation snapshot write duration",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "status"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🤖 Agent 调用指标
// =============================================================================

// RecordAgentCall 记录一次 Agent 调用（含重试的总耗时）
func (c *Collector) RecordAgentCall(agentID, status string, duration time.Duration, inputTokens, outputTokens int, cost float64) {
	if c == nil {
		return
	}
	c.agentCallsTotal.WithLabelValues(agentID, status).Inc()
	c.agentCallDuration.WithLabelValues(agentID).Observe(duration.Seconds())
	if inputTokens > 0 {
		c.agentTokens.WithLabelValues(agentID, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.agentTokens.WithLabelValues(agentID, "output").Add(float64(outputTokens))
	}
	if cost > 0 {
		c.agentCost.WithLabelValues(agentID).Add(cost)
	}
}

// =============================================================================
// 🎭 会话指标
// =============================================================================

// RecordTurn 记录一轮调度的结果与追加的回复数
func (c *Collector) RecordTurn(outcome string, responses int) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(outcome).Inc()
	c.turnResponses.Observe(float64(responses))
}

// RecordConversationCreated 新会话进入 planning
func (c *Collector) RecordConversationCreated(status string) {
	if c == nil {
		return
	}
	c.conversationsByStatus.WithLabelValues(status).Inc()
}

// RecordStateTransition 记录状态迁移，同时维护各状态的会话数
func (c *Collector) RecordStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
	c.conversationsByStatus.WithLabelValues(from).Dec()
	c.conversationsByStatus.WithLabelValues(to).Inc()
}

// RecordModeration 记录主持人干预（drift_redirect、drift_stop、limit_stop 等）
func (c *Collector) RecordModeration(kind string) {
	if c == nil {
		return
	}
	c.moderationEvents.WithLabelValues(kind).Inc()
}

// =============================================================================
// 🔌 熔断与限流
// =============================================================================

// RecordCircuitState 记录熔断器状态变更；state 取 0/1/2
func (c *Collector) RecordCircuitState(target, from, to string, state int) {
	if c == nil {
		return
	}
	c.circuitState.WithLabelValues(target).Set(float64(state))
	c.circuitTransitions.WithLabelValues(target, from, to).Inc()
}

// RecordRateLimited 记录一次被限流
func (c *Collector) RecordRateLimited(scope string) {
	if c == nil {
		return
	}
	c.rateLimited.WithLabelValues(scope).Inc()
}

// =============================================================================
// 📝 文档与持久化
// =============================================================================

// RecordDocFlush 记录文档刷新；trigger 为 debounced 或 immediate
func (c *Collector) RecordDocFlush(trigger string, err error) {
	if c == nil {
		return
	}
	c.docFlushes.WithLabelValues(trigger, outcome(err)).Inc()
}

// RecordSnapshot 记录快照写入耗时
func (c *Collector) RecordSnapshot(backend string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.snapshotDuration.WithLabelValues(backend, outcome(err)).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
