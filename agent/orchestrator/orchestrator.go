package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/agent/conversation"
	"github.com/BaSui01/roundtable/agent/dispatch"
	"github.com/BaSui01/roundtable/agent/docstore"
	"github.com/BaSui01/roundtable/agent/moderation"
	"github.com/BaSui01/roundtable/internal/metrics"
	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
)

// StopAll 作为 Stop 的 agentID 时停止整个会话
const StopAll = "all"

// 错误定义
var (
	ErrNotPaused = types.NewError(types.ErrInvalidTransition, "conversation is not paused")
	ErrCostLimit = types.NewError(types.ErrCostLimitExceeded, "cost limit still exceeded")
)

// InboundEvent 传输层收到的一条消息
type InboundEvent struct {
	ChannelRef string           `json:"channel_ref"`
	AuthorID   string           `json:"author_id"`
	AuthorKind types.AuthorKind `json:"author_kind,omitempty"`
	Text       string           `json:"text"`
	// Topic 与 Agents 仅在创建会话时使用；为空时分别取 Text 与默认 Agent 列表
	Topic      string    `json:"topic,omitempty"`
	Agents     []string  `json:"agents,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Config 编排配置
type Config struct {
	DefaultAgents    []string      `json:"default_agents" yaml:"default_agents"`
	FollowUpRounds   int           `json:"follow_up_rounds" yaml:"follow_up_rounds"`
	SweepInterval    time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	KickoffOnApprove bool          `json:"kickoff_on_approve" yaml:"kickoff_on_approve"`
}

// DefaultConfig 返回默认编排配置
func DefaultConfig() Config {
	return Config{
		FollowUpRounds:   2,
		SweepInterval:    30 * time.Second,
		KickoffOnApprove: true,
	}
}

// Result HandleIncoming 与控制信号的处理结果
type Result struct {
	ConversationID string                      `json:"conversation_id"`
	Status         types.Status                `json:"status"`
	Created        bool                        `json:"created"`
	Ignored        bool                        `json:"ignored"`
	Message        *types.Message              `json:"message,omitempty"`
	Planning       *moderation.PlanningOutcome `json:"planning,omitempty"`
	Decisions      []*moderation.Decision      `json:"decisions,omitempty"`
	Turns          []*dispatch.TurnResult      `json:"turns,omitempty"`
}

// Deps 编排依赖；Debouncer 与 Metrics 可为空
type Deps struct {
	Manager     *conversation.ContextManager
	Coordinator *dispatch.Coordinator
	Planner     *moderation.Planner
	Moderator   *moderation.Moderator
	Debouncer   *docstore.Debouncer
	Metrics     *metrics.Collector
}

// Orchestrator 会话编排入口：接收消息、驱动规划与主持、调度回复、处理控制信号
type Orchestrator struct {
	cfg         Config
	store       *conversation.Store
	manager     *conversation.ContextManager
	coordinator *dispatch.Coordinator
	planner     *moderation.Planner
	moderator   *moderation.Moderator
	debouncer   *docstore.Debouncer
	metrics     *metrics.Collector
	logger      *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New 创建编排器并注册状态迁移钩子
func New(cfg Config, deps Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.FollowUpRounds < 0 {
		cfg.FollowUpRounds = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	o := &Orchestrator{
		cfg:         cfg,
		store:       deps.Manager.Store(),
		manager:     deps.Manager,
		coordinator: deps.Coordinator,
		planner:     deps.Planner,
		moderator:   deps.Moderator,
		debouncer:   deps.Debouncer,
		metrics:     deps.Metrics,
		logger:      logger.With(zap.String("component", "orchestrator")),
		locks:       make(map[string]*sync.Mutex),
	}
	o.store.OnTransition(o.onTransition)
	return o
}

// Store 返回会话存储
func (o *Orchestrator) Store() *conversation.Store {
	return o.store
}

// Get 返回会话快照
func (o *Orchestrator) Get(id string) (types.Conversation, error) {
	return o.store.Get(id)
}

// List 返回会话快照；status 为空时返回全部
func (o *Orchestrator) List(status types.Status) []types.Conversation {
	all := o.store.List()
	if status == "" {
		return all
	}
	out := all[:0]
	for _, c := range all {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// 📥 入站消息
// =============================================================================

// HandleIncoming 处理一条入站消息。消息总会被追加到历史；
// 只有 planning 与 active 会话会进一步处理。
func (o *Orchestrator) HandleIncoming(ctx context.Context, ev InboundEvent) (*Result, error) {
	ev.Text = strings.TrimSpace(ev.Text)
	if ev.ChannelRef == "" || ev.Text == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "channel_ref and text are required")
	}
	if ev.AuthorKind == "" {
		ev.AuthorKind = types.AuthorHuman
	}

	conv, created, err := o.getOrCreate(ctx, ev)
	if err != nil {
		return nil, err
	}

	unlock := o.lock(conv.ID)
	defer unlock()

	msg, err := o.manager.Append(ctx, conv.ID, types.Message{
		AuthorID:   ev.AuthorID,
		AuthorKind: ev.AuthorKind,
		AgentID:    agentIDOf(ev),
		Content:    ev.Text,
		Timestamp:  ev.ReceivedAt,
	})
	if err != nil {
		return nil, err
	}
	o.coordinator.Batch().Observe(conv.ID, msg.ID, msg.Timestamp)

	result := &Result{ConversationID: conv.ID, Created: created, Message: &msg}
	status, channel, err := o.statusOf(conv.ID)
	if err != nil {
		return nil, err
	}

	switch status {
	case types.StatusPlanning:
		var out *moderation.PlanningOutcome
		if created {
			out, err = o.planner.Begin(ctx, conv.ID)
		} else {
			out, err = o.planner.HandleReply(ctx, conv.ID, msg)
		}
		if err != nil {
			return nil, err
		}
		result.Planning = out
		o.deliverSystem(ctx, channel, out.Messages)
		if out.Approved {
			if err := o.afterApproval(ctx, conv.ID, result); err != nil {
				return nil, err
			}
		}
	case types.StatusActive:
		if err := o.runActive(ctx, conv.ID, channel, msg, result); err != nil {
			return nil, err
		}
	default:
		result.Ignored = true
		o.logger.Debug("message recorded without handling",
			zap.String("conversation_id", conv.ID),
			zap.String("status", string(status)),
		)
	}

	o.afterMessages(ctx, conv.ID)
	result.Status, _, _ = o.statusOf(conv.ID)
	return result, nil
}

func agentIDOf(ev InboundEvent) string {
	if ev.AuthorKind == types.AuthorAgent {
		return ev.AuthorID
	}
	return ""
}

func (o *Orchestrator) getOrCreate(ctx context.Context, ev InboundEvent) (types.Conversation, bool, error) {
	conv, err := o.store.GetByChannel(ev.ChannelRef)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, conversation.ErrNotFound) {
		return types.Conversation{}, false, err
	}

	topic := strings.TrimSpace(ev.Topic)
	if topic == "" {
		topic = ev.Text
	}
	agents := ev.Agents
	if len(agents) == 0 {
		agents = o.cfg.DefaultAgents
	}
	conv, err = o.store.Create(ctx, conversation.CreateParams{
		ChannelRef: ev.ChannelRef,
		Topic:      topic,
		Agents:     agents,
	})
	if errors.Is(err, conversation.ErrChannelInUse) {
		// 并发的首条消息已创建会话
		conv, err = o.store.GetByChannel(ev.ChannelRef)
		return conv, false, err
	}
	if err != nil {
		return types.Conversation{}, false, err
	}
	o.metrics.RecordConversationCreated(string(conv.Status))
	return conv, true, nil
}

// runActive 主持 trigger，必要时调度回复，并对 Agent 回复继续主持与连锁调度
func (o *Orchestrator) runActive(ctx context.Context, id, channel string, trigger types.Message, result *Result) error {
	decision, err := o.moderator.Observe(ctx, id, trigger)
	if err != nil {
		return err
	}
	result.Decisions = append(result.Decisions, decision)
	o.deliverSystem(ctx, channel, decision.Messages)
	if decision.Stopped {
		return nil
	}

	for round := 0; round <= o.cfg.FollowUpRounds; round++ {
		respond, err := o.shouldRespond(id, trigger)
		if err != nil {
			return err
		}
		if !respond {
			return nil
		}

		turn, err := o.coordinator.RunTurn(ctx, id, trigger)
		if errors.Is(err, dispatch.ErrNotActive) || errors.Is(err, dispatch.ErrNoActiveAgents) {
			o.logger.Info("turn skipped", zap.String("conversation_id", id), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		result.Turns = append(result.Turns, turn)

		for _, msg := range turn.Messages {
			d, err := o.moderator.Observe(ctx, id, msg)
			if err != nil {
				return err
			}
			result.Decisions = append(result.Decisions, d)
			o.deliverSystem(ctx, channel, d.Messages)
			if d.Stopped {
				return nil
			}
		}
		if turn.Paused || len(turn.Messages) == 0 {
			return nil
		}
		trigger = turn.Messages[len(turn.Messages)-1]
	}
	return nil
}

func (o *Orchestrator) shouldRespond(id string, msg types.Message) (bool, error) {
	var respond bool
	err := o.store.View(id, func(c *types.Conversation) {
		respond = c.Status == types.StatusActive && o.coordinator.ShouldRespond(msg, c)
	})
	return respond, err
}

// afterMessages 安排文档刷新，超过阈值时先同步刷新文档再压缩
func (o *Orchestrator) afterMessages(ctx context.Context, id string) {
	if o.debouncer != nil {
		o.debouncer.Notify(id)
	}
	should, err := o.manager.ShouldCompress(id)
	if err != nil || !should {
		return
	}
	if o.debouncer != nil {
		o.debouncer.Immediate(ctx, id)
	}
	if _, err := o.manager.Compress(ctx, id); err != nil {
		o.logger.Warn("compression failed", zap.String("conversation_id", id), zap.Error(err))
	}
}

// =============================================================================
// 🎛️ 控制信号
// =============================================================================

// ApproveAndStart 批准计划并进入 active；配置了开场时立即调度第一轮
func (o *Orchestrator) ApproveAndStart(ctx context.Context, id string) (*Result, error) {
	unlock := o.lock(id)
	defer unlock()

	if _, err := o.planner.ApproveAndStart(ctx, id); err != nil {
		return nil, err
	}
	result := &Result{ConversationID: id}
	if err := o.afterApproval(ctx, id, result); err != nil {
		return nil, err
	}
	o.afterMessages(ctx, id)
	result.Status, _, _ = o.statusOf(id)
	return result, nil
}

func (o *Orchestrator) afterApproval(ctx context.Context, id string, result *Result) error {
	conv, err := o.store.Get(id)
	if err != nil {
		return err
	}
	focus := conv.Topic
	if conv.Moderation != nil && conv.Moderation.CurrentFocus != "" {
		focus = conv.Moderation.CurrentFocus
	}
	kickoff, err := o.manager.Append(ctx, id, types.Message{
		AuthorID:   moderation.PlannerAuthor,
		AuthorKind: types.AuthorSystem,
		Content:    fmt.Sprintf("Plan approved. The discussion starts now: %s", focus),
	})
	if err != nil {
		return err
	}
	o.deliverSystem(ctx, conv.ChannelRef, []types.Message{kickoff})
	if !o.cfg.KickoffOnApprove {
		return nil
	}
	return o.runActive(ctx, id, conv.ChannelRef, kickoff, result)
}

// Resume 恢复暂停的会话；费用仍超限时拒绝
func (o *Orchestrator) Resume(ctx context.Context, id string) (types.Conversation, error) {
	unlock := o.lock(id)
	defer unlock()

	conv, err := o.store.UpdateAndGet(ctx, id, func(tx *conversation.Txn) error {
		if tx.Status != types.StatusPaused {
			return fmt.Errorf("%w: %s is %s", ErrNotPaused, id, tx.Status)
		}
		if tx.CostLimitReached() {
			return fmt.Errorf("%w: $%.2f of $%.2f", ErrCostLimit, tx.Costs.TotalCost, tx.Limits.CostLimit)
		}
		// 暂停期间不计入超时
		tx.LastActivityAt = o.store.Now()
		return tx.Transition(types.StatusActive, "")
	})
	if err != nil {
		return types.Conversation{}, err
	}
	o.logger.Info("conversation resumed", zap.String("conversation_id", id))
	return conv, nil
}

// Stop 停用单个 Agent，或在 agentID 为 "all" 时停止整个会话
func (o *Orchestrator) Stop(ctx context.Context, id, agentID string) (types.Conversation, error) {
	unlock := o.lock(id)
	defer unlock()

	agentID = strings.TrimSpace(agentID)
	if agentID == "" || agentID == StopAll {
		var closing types.Message
		conv, err := o.store.UpdateAndGet(ctx, id, func(tx *conversation.Txn) error {
			reason := "stopped by operator"
			if err := tx.Transition(types.StatusStopped, reason); err != nil {
				return err
			}
			closing = o.manager.AppendLocked(tx, moderation.ClosingMessage(reason))
			return nil
		})
		if err != nil {
			return types.Conversation{}, err
		}
		o.deliverSystem(ctx, conv.ChannelRef, []types.Message{closing})
		return conv, nil
	}

	conv, err := o.store.UpdateAndGet(ctx, id, func(tx *conversation.Txn) error {
		if tx.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", conversation.ErrInvalidTransition, id, tx.Status)
		}
		// 只有已经发过言的 Agent 可以被停用
		if slices.Contains(tx.ActiveAgents, agentID) {
			tx.Disable(agentID)
			return nil
		}
		return types.NewError(types.ErrAgentNotFound, fmt.Sprintf("agent %s has not responded in %s", agentID, id))
	})
	if err != nil {
		return types.Conversation{}, err
	}
	o.logger.Info("agent disabled",
		zap.String("conversation_id", id),
		zap.String("agent_id", agentID),
	)
	return conv, nil
}

// EditPlanningMessage 替换规划阶段的计划文本
func (o *Orchestrator) EditPlanningMessage(ctx context.Context, id, text string) (types.Conversation, error) {
	unlock := o.lock(id)
	defer unlock()
	return o.planner.EditPlanningMessage(ctx, id, text)
}

// Complete 以成功结论结束会话
func (o *Orchestrator) Complete(ctx context.Context, id, summary string) (types.Conversation, error) {
	unlock := o.lock(id)
	defer unlock()

	var closing types.Message
	conv, err := o.store.UpdateAndGet(ctx, id, func(tx *conversation.Txn) error {
		if err := tx.Transition(types.StatusCompleted, "concluded"); err != nil {
			return err
		}
		closing = o.manager.AppendLocked(tx, moderation.ConclusionMessage(summary))
		return nil
	})
	if err != nil {
		return types.Conversation{}, err
	}
	o.deliverSystem(ctx, conv.ChannelRef, []types.Message{closing})
	if o.debouncer != nil {
		o.debouncer.Immediate(ctx, id)
	}
	return conv, nil
}

// =============================================================================
// 🧹 定期检查
// =============================================================================

// Sweep 停止超时的规划会话与超出限额（如空闲超时）的 active 会话，返回被停止的 id
func (o *Orchestrator) Sweep(ctx context.Context) []string {
	var stopped []string
	for _, e := range o.planner.ExpirePlanning(ctx) {
		o.deliverSystem(ctx, e.ChannelRef, []types.Message{e.Closing})
		stopped = append(stopped, e.ConversationID)
	}

	for _, id := range o.store.IDsByStatus(types.StatusActive) {
		res, err := o.manager.CheckLimits(id)
		if err != nil || !res.Exceeded {
			continue
		}
		var closing types.Message
		conv, err := o.store.UpdateAndGet(ctx, id, func(tx *conversation.Txn) error {
			// 加锁后复查，期间可能已有新消息或状态变化
			again := o.manager.CheckLimitsLocked(tx.Conversation)
			if tx.Status != types.StatusActive || !again.Exceeded {
				return errSkip
			}
			if err := tx.Transition(types.StatusStopped, again.Reason); err != nil {
				return err
			}
			closing = o.manager.AppendLocked(tx, moderation.ClosingMessage(again.Reason))
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			o.logger.Warn("sweep stop failed", zap.String("conversation_id", id), zap.Error(err))
			continue
		}
		o.metrics.RecordModeration("limit_stop")
		o.deliverSystem(ctx, conv.ChannelRef, []types.Message{closing})
		stopped = append(stopped, id)
	}
	if len(stopped) > 0 {
		o.logger.Info("sweep stopped conversations", zap.Strings("conversation_ids", stopped))
	}
	return stopped
}

var errSkip = errors.New("skip")

// Start 按 SweepInterval 周期执行 Sweep，直到 ctx 结束或调用 Close
func (o *Orchestrator) Start(ctx context.Context) {
	o.sweepMu.Lock()
	defer o.sweepMu.Unlock()
	if o.sweepCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	o.sweepCancel = cancel
	o.sweepDone = make(chan struct{})
	go func() {
		defer close(o.sweepDone)
		ticker := time.NewTicker(o.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.Sweep(ctx)
			}
		}
	}()
}

// Close 停止定期检查与文档防抖
func (o *Orchestrator) Close() {
	o.sweepMu.Lock()
	cancel, done := o.sweepCancel, o.sweepDone
	o.sweepCancel = nil
	o.sweepMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	if o.debouncer != nil {
		o.debouncer.Stop()
	}
}

// =============================================================================
// 内部工具
// =============================================================================

// lock 串行化同一会话的处理；不同会话互不阻塞
func (o *Orchestrator) lock(id string) func() {
	o.locksMu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	o.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (o *Orchestrator) statusOf(id string) (types.Status, string, error) {
	var status types.Status
	var channel string
	err := o.store.View(id, func(c *types.Conversation) {
		status = c.Status
		channel = c.ChannelRef
	})
	return status, channel, err
}

func (o *Orchestrator) deliverSystem(ctx context.Context, channel string, msgs []types.Message) {
	for _, msg := range msgs {
		if err := o.coordinator.Deliver(ctx, channel, msg); err != nil {
			o.logger.Warn("system message delivery failed",
				zap.String("channel_ref", channel),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
}

func (o *Orchestrator) onTransition(conv types.Conversation, from, to types.Status) {
	o.metrics.RecordStateTransition(string(from), string(to))
	if !to.IsTerminal() {
		return
	}
	o.coordinator.Batch().Forget(conv.ID)
	if o.debouncer != nil {
		// 终止后最后一次刷新文档
		o.debouncer.Notify(conv.ID)
	}
}
