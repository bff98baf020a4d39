package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/agent/conversation"
	"github.com/BaSui01/roundtable/internal/metrics"
	"github.com/BaSui01/roundtable/internal/ratelimit"
	"github.com/BaSui01/roundtable/llm"
	"github.com/BaSui01/roundtable/llm/circuitbreaker"
	"github.com/BaSui01/roundtable/llm/resilience"
	"github.com/BaSui01/roundtable/llm/retry"
	"github.com/BaSui01/roundtable/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/BaSui01/roundtable/agent/dispatch"

// 错误定义
var (
	ErrNotActive      = types.NewError(types.ErrNotActive, "conversation is not active")
	ErrNoActiveAgents = types.NewError(types.ErrNoActiveAgents, "no dispatchable agents")
)

// Transport 把消息投递到外部频道，返回投递后的外部 id。
// 投递语义为至少一次，失败由调用方重试。
type Transport interface {
	Deliver(ctx context.Context, channelRef, text string, replyToIDs []string) (string, error)
}

// AgentSource 按 id 查找 Agent
type AgentSource interface {
	Get(id string) (llm.Agent, error)
}

// PromptBuilder 根据会话构建系统提示
type PromptBuilder func(conv *types.Conversation) string

// Config 调度配置
type Config struct {
	MaxResponsesPerTurn int           `json:"max_responses_per_turn" yaml:"max_responses_per_turn"`
	Concurrency         int           `json:"concurrency" yaml:"concurrency"`
	BatchWindow         time.Duration `json:"batch_window" yaml:"batch_window"`
	CallTimeout         time.Duration `json:"call_timeout" yaml:"call_timeout"`
	DeliveryAttempts    int           `json:"delivery_attempts" yaml:"delivery_attempts"`
	DeliveryBackoff     time.Duration `json:"delivery_backoff" yaml:"delivery_backoff"`
}

// DefaultConfig 返回默认调度配置
func DefaultConfig() Config {
	return Config{
		MaxResponsesPerTurn: 2,
		Concurrency:         3,
		BatchWindow:         10 * time.Second,
		DeliveryAttempts:    3,
		DeliveryBackoff:     500 * time.Millisecond,
	}
}

// TurnResult 一轮调度的结果
type TurnResult struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []types.Message `json:"messages"`
	Failed         []string        `json:"failed,omitempty"`
	Skipped        []string        `json:"skipped,omitempty"`
	Paused         bool            `json:"paused"`
	PauseReason    string          `json:"pause_reason,omitempty"`
	Undelivered    []string        `json:"undelivered,omitempty"`
}

// Coordinator 决定哪些 Agent 回复，并以有界并发安全地执行一轮回复
type Coordinator struct {
	cfg       Config
	manager   *conversation.ContextManager
	store     *conversation.Store
	agents    AgentSource
	executor  *resilience.Executor
	limiter   *ratelimit.Registry
	transport Transport
	delivery  retry.Retryer
	batch     *BatchWindow
	prompt    PromptBuilder
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option 配置 Coordinator
type Option func(*Coordinator)

// WithRateLimiter 每次 Agent 调用前按 agent id 等待令牌
func WithRateLimiter(r *ratelimit.Registry) Option {
	return func(c *Coordinator) { c.limiter = r }
}

// WithTransport 设置回复投递
func WithTransport(t Transport) Option {
	return func(c *Coordinator) { c.transport = t }
}

// WithPromptBuilder 替换默认系统提示
func WithPromptBuilder(p PromptBuilder) Option {
	return func(c *Coordinator) { c.prompt = p }
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithDeliveryRetryer 替换投递重试器
func WithDeliveryRetryer(r retry.Retryer) Option {
	return func(c *Coordinator) { c.delivery = r }
}

// WithBatchWindow 共享外部的批处理窗口
func WithBatchWindow(b *BatchWindow) Option {
	return func(c *Coordinator) { c.batch = b }
}

// NewCoordinator 创建调度器
func NewCoordinator(cfg Config, manager *conversation.ContextManager, agents AgentSource, executor *resilience.Executor, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxResponsesPerTurn <= 0 {
		cfg.MaxResponsesPerTurn = def.MaxResponsesPerTurn
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.DeliveryAttempts <= 0 {
		cfg.DeliveryAttempts = def.DeliveryAttempts
	}
	if cfg.DeliveryBackoff <= 0 {
		cfg.DeliveryBackoff = def.DeliveryBackoff
	}
	if executor == nil {
		executor = resilience.NewExecutor(nil, nil, logger)
	}

	c := &Coordinator{
		cfg:      cfg,
		manager:  manager,
		store:    manager.Store(),
		agents:   agents,
		executor: executor,
		prompt:   DefaultPrompt,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "dispatch")),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.batch == nil {
		c.batch = NewBatchWindow(cfg.BatchWindow, c.store.Now)
	}
	if c.delivery == nil {
		c.delivery = retry.NewBackoffRetryer(&retry.RetryPolicy{
			MaxRetries:   cfg.DeliveryAttempts,
			InitialDelay: cfg.DeliveryBackoff,
			MaxDelay:     10 * cfg.DeliveryBackoff,
			Multiplier:   2,
			Retryable:    deliveryRetryable,
		}, c.logger)
	}
	return c
}

// deliveryRetryable 投递失败默认重试；结构化错误以其 Retryable 为准
func deliveryRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed.Retryable
	}
	return true
}

// Config 返回生效的配置
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Batch 返回批处理窗口
func (c *Coordinator) Batch() *BatchWindow {
	return c.batch
}

// ShouldRespond 使用配置的 MaxResponsesPerTurn 判断是否回复
func (c *Coordinator) ShouldRespond(msg types.Message, conv *types.Conversation) bool {
	return ShouldRespond(msg, conv, c.cfg.MaxResponsesPerTurn)
}

// DefaultPrompt 由话题、目标与当前焦点构建系统提示
func DefaultPrompt(conv *types.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are participating in a multi-agent roundtable discussion about: %s\n", conv.Topic)
	if m := conv.Moderation; m != nil {
		if len(m.Objectives) > 0 {
			b.WriteString("Objectives:\n")
			for _, o := range m.Objectives {
				fmt.Fprintf(&b, "- %s\n", o)
			}
		}
		if m.CurrentFocus != "" {
			fmt.Fprintf(&b, "Current focus: %s\n", m.CurrentFocus)
		}
	}
	b.WriteString("Keep replies concise, build on what others said, and stay on topic.")
	return b.String()
}

// =============================================================================
// 🔁 一轮调度
// =============================================================================

// RunTurn 对 trigger 执行一轮回复。
// 单个 Agent 失败不影响本轮；只有会话不可调度时返回错误。
// 同一会话的 RunTurn 应由调用方串行化。
func (c *Coordinator) RunTurn(ctx context.Context, conversationID string, trigger types.Message) (*TurnResult, error) {
	var (
		history  []types.Message
		agentIDs []string
		prompt   string
		channel  string
		status   types.Status
	)
	err := c.store.View(conversationID, func(conv *types.Conversation) {
		status = conv.Status
		if status != types.StatusActive {
			return
		}
		history = append([]types.Message(nil), conv.Messages...)
		agentIDs = conv.DispatchableAgents()
		prompt = c.prompt(conv)
		channel = conv.ChannelRef
	})
	if err != nil {
		return nil, err
	}
	if status != types.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, conversationID, status)
	}
	if len(agentIDs) == 0 {
		c.logger.Warn("dispatch refused, no dispatchable agents",
			zap.String("conversation_id", conversationID),
		)
		c.metrics.RecordTurn("no_agents", 0)
		return nil, fmt.Errorf("%w: %s", ErrNoActiveAgents, conversationID)
	}

	replyTo := c.batch.ReplyTargets(conversationID)
	if len(replyTo) == 0 && trigger.ID != "" {
		replyTo = []string{trigger.ID}
	}

	result := &TurnResult{ConversationID: conversationID}
	var mu sync.Mutex

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)

	// SetLimit 下 g.Go 在名额满时阻塞，超出并发的 Agent 按选择顺序依次启动
	for _, agentID := range agentIDs {
		g.Go(func() error {
			outcome := c.runAgent(ctx, conversationID, agentID, history, prompt, replyTo, result, &mu)
			mu.Lock()
			switch outcome {
			case outcomeFailed:
				result.Failed = append(result.Failed, agentID)
			case outcomeSkipped:
				result.Skipped = append(result.Skipped, agentID)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.deliverAll(ctx, channel, result)

	turnOutcome := "ok"
	switch {
	case result.Paused:
		turnOutcome = "paused"
	case len(result.Messages) == 0:
		turnOutcome = "empty"
	}
	c.metrics.RecordTurn(turnOutcome, len(result.Messages))

	c.logger.Info("turn completed",
		zap.String("conversation_id", conversationID),
		zap.Int("responses", len(result.Messages)),
		zap.Strings("failed", result.Failed),
		zap.Strings("skipped", result.Skipped),
		zap.Bool("paused", result.Paused),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

type agentOutcome int

const (
	outcomeProduced agentOutcome = iota
	outcomeFailed
	outcomeSkipped
)

func (c *Coordinator) runAgent(
	ctx context.Context,
	conversationID, agentID string,
	history []types.Message,
	prompt string,
	replyTo []string,
	result *TurnResult,
	mu *sync.Mutex,
) agentOutcome {
	log := c.logger.With(zap.String("conversation_id", conversationID), zap.String("agent_id", agentID))

	// 调用前检查费用上限；已达上限则暂停会话并跳过
	proceed := false
	err := c.store.Update(ctx, conversationID, func(tx *conversation.Txn) error {
		if tx.Status != types.StatusActive {
			return nil
		}
		if tx.CostLimitReached() {
			reason := costReason(tx.Conversation)
			mu.Lock()
			result.Paused, result.PauseReason = true, reason
			mu.Unlock()
			return tx.Transition(types.StatusPaused, reason)
		}
		proceed = true
		return nil
	})
	if err != nil || !proceed {
		if err != nil {
			log.Warn("cost pre-check failed", zap.Error(err))
		}
		return outcomeSkipped
	}

	agent, err := c.agents.Get(agentID)
	if err != nil {
		log.Warn("agent not registered", zap.Error(err))
		return outcomeFailed
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, agentID); err != nil {
			c.metrics.RecordRateLimited("agent")
			log.Warn("rate limiter rejected agent call", zap.Error(err))
			return outcomeSkipped
		}
	}

	spanCtx, span := c.tracer.Start(ctx, "dispatch.agent_call",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("agent.id", agentID),
			attribute.Int("history.length", len(history)),
		))
	defer span.End()

	start := time.Now()
	res, err := resilience.Execute(spanCtx, c.executor, agentID, func(ctx context.Context) (*types.AgentResult, error) {
		if c.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()
		}
		return agent.Respond(ctx, history, prompt)
	})
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		status := "error"
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			status = "circuit_open"
		}
		c.metrics.RecordAgentCall(agentID, status, duration, 0, 0, 0)
		log.Warn("agent call failed, dropping from turn", zap.String("status", status), zap.Error(err))
		return outcomeFailed
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		c.metrics.RecordAgentCall(agentID, "empty", duration, 0, 0, 0)
		log.Warn("agent returned empty response")
		return outcomeFailed
	}

	res.AgentID = agentID
	res.ReplyToIDs = replyTo
	span.SetAttributes(
		attribute.Int("tokens.total", res.Tokens.Total),
		attribute.Float64("cost.usd", res.CostUSD),
	)
	c.metrics.RecordAgentCall(agentID, "success", duration, res.Tokens.Input, res.Tokens.Output, res.CostUSD)

	// 累计费用、追加消息与调用后检查在同一把会话锁下完成，避免并发完成时丢失更新
	produced := outcomeSkipped
	err = c.store.Update(ctx, conversationID, func(tx *conversation.Txn) error {
		tx.Costs.Add(agentID, res.Tokens, res.CostUSD)
		if tx.Status.IsTerminal() {
			return nil
		}
		reply := res.ToMessage(conversationID)
		// 以完成时刻（存储时钟）为准
		reply.Timestamp = c.store.Now()
		msg := c.manager.AppendLocked(tx, reply)
		tx.MarkActive(agentID)
		produced = outcomeProduced

		mu.Lock()
		result.Messages = append(result.Messages, msg)
		mu.Unlock()

		if tx.Status == types.StatusActive && tx.CostLimitReached() {
			reason := costReason(tx.Conversation)
			mu.Lock()
			result.Paused, result.PauseReason = true, reason
			mu.Unlock()
			return tx.Transition(types.StatusPaused, reason)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to record agent response", zap.Error(err))
		return outcomeFailed
	}
	if produced == outcomeSkipped {
		log.Info("conversation ended during call, response dropped")
	}
	return produced
}

func costReason(c *types.Conversation) string {
	return fmt.Sprintf("cost limit reached ($%.2f of $%.2f)", c.Costs.TotalCost, c.Limits.CostLimit)
}

// deliverAll 逐条投递；单条失败不阻塞其余消息
func (c *Coordinator) deliverAll(ctx context.Context, channelRef string, result *TurnResult) {
	if c.transport == nil {
		return
	}
	for _, msg := range result.Messages {
		err := c.delivery.Do(ctx, func() error {
			_, err := c.transport.Deliver(ctx, channelRef, msg.Content, msg.ReplyToIDs)
			return err
		})
		if err != nil {
			result.Undelivered = append(result.Undelivered, msg.ID)
			c.logger.Error("message delivery failed",
				zap.String("conversation_id", result.ConversationID),
				zap.String("message_id", msg.ID),
				zap.String("agent_id", msg.AgentID),
				zap.Error(err),
			)
		}
	}
}

// Deliver 投递一条非 Agent 生成的消息（主持人、规划问题等），沿用同一重试策略
func (c *Coordinator) Deliver(ctx context.Context, channelRef string, msg types.Message) error {
	if c.transport == nil {
		return nil
	}
	return c.delivery.Do(ctx, func() error {
		_, err := c.transport.Deliver(ctx, channelRef, msg.Content, msg.ReplyToIDs)
		return err
	})
}
