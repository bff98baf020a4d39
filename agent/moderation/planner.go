package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/roundtable/agent/conversation"
	"github.com/BaSui01/roundtable/llm"
	"github.com/BaSui01/roundtable/llm/resilience"
	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PlannerAuthor 规划消息的作者 id
const PlannerAuthor = "planner"

// ErrNotPlanning 会话已离开规划阶段
var ErrNotPlanning = types.NewError(types.ErrInvalidTransition, "conversation is not planning")

// PlannerConfig 规划配置
type PlannerConfig struct {
	MaxQuestions     int           `json:"max_questions" yaml:"max_questions"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	ApprovalKeywords []string      `json:"approval_keywords" yaml:"approval_keywords"`
	DefaultLimits    types.Limits  `json:"default_limits" yaml:"default_limits"`
}

// DefaultPlannerConfig 返回默认规划配置
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxQuestions:     5,
		Timeout:          30 * time.Minute,
		ApprovalKeywords: []string{"approve", "approved", "start", "go", "yes", "lgtm", "let's go"},
		DefaultLimits: types.Limits{
			MaxMessages:          50,
			CostLimit:            1.00,
			Timeout:              30 * time.Minute,
			CompressionThreshold: 40,
		},
	}
}

// PlanningOutcome 一次规划步骤的结果。Messages 已追加到会话，调用方负责投递。
type PlanningOutcome struct {
	Questions []string        `json:"questions,omitempty"`
	Plan      *Plan           `json:"plan,omitempty"`
	Approved  bool            `json:"approved"`
	Messages  []types.Message `json:"messages,omitempty"`
}

// Planner 驱动 planning 状态：澄清问题、生成计划、等待批准或超时
type Planner struct {
	cfg      PlannerConfig
	manager  *conversation.ContextManager
	store    *conversation.Store
	agent    llm.Agent
	executor *resilience.Executor
	group    singleflight.Group
	logger   *zap.Logger
}

// NewPlanner 创建规划器；agent 为 nil 时跳过提问并直接使用默认计划
func NewPlanner(cfg PlannerConfig, manager *conversation.ContextManager, agent llm.Agent, executor *resilience.Executor, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultPlannerConfig()
	if cfg.MaxQuestions < 0 {
		cfg.MaxQuestions = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.ApprovalKeywords) == 0 {
		cfg.ApprovalKeywords = def.ApprovalKeywords
	}
	if cfg.DefaultLimits == (types.Limits{}) {
		cfg.DefaultLimits = def.DefaultLimits
	}
	if executor == nil {
		executor = resilience.NewExecutor(nil, nil, logger)
	}
	return &Planner{
		cfg:      cfg,
		manager:  manager,
		store:    manager.Store(),
		agent:    agent,
		executor: executor,
		logger:   logger.With(zap.String("component", "planner")),
	}
}

// Config 返回生效的规划配置
func (p *Planner) Config() PlannerConfig {
	return p.cfg
}

// IsApproval 判断回复是否为批准指令
func (p *Planner) IsApproval(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, "!.。 ")
	for _, kw := range p.cfg.ApprovalKeywords {
		if t == strings.ToLower(kw) {
			return true
		}
	}
	return false
}

// Begin 分析开场消息：有澄清问题则提问，否则直接生成计划。
// 同一会话并发调用共享同一次执行结果。
func (p *Planner) Begin(ctx context.Context, conversationID string) (*PlanningOutcome, error) {
	v, err, shared := p.group.Do("begin:"+conversationID, func() (any, error) {
		return p.begin(ctx, conversationID)
	})
	if shared {
		p.logger.Debug("joined in-flight planning", zap.String("conversation_id", conversationID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*PlanningOutcome), nil
}

func (p *Planner) begin(ctx context.Context, conversationID string) (*PlanningOutcome, error) {
	conv, err := p.planningSnapshot(conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Planning.DraftPlan != "" || len(conv.Planning.Questions) > 0 {
		return &PlanningOutcome{Questions: conv.Planning.Questions}, nil
	}

	questions := p.askQuestions(ctx, &conv)
	if len(questions) == 0 {
		return p.buildPlan(ctx, conversationID)
	}

	out := &PlanningOutcome{Questions: questions}
	err = p.store.Update(ctx, conversationID, func(tx *conversation.Txn) error {
		if tx.Status != types.StatusPlanning || tx.Planning == nil {
			return fmt.Errorf("%w: %s", ErrNotPlanning, conversationID)
		}
		tx.Planning.Questions = questions
		out.Messages = append(out.Messages, p.manager.AppendLocked(tx, plannerMessage(FormatQuestions(questions))))
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("clarifying questions asked",
		zap.String("conversation_id", conversationID),
		zap.Int("questions", len(questions)),
	)
	return out, nil
}

// HandleReply 处理规划阶段的人类回复：批准关键字直接启动，否则记录回答并重建计划
func (p *Planner) HandleReply(ctx context.Context, conversationID string, reply types.Message) (*PlanningOutcome, error) {
	if p.IsApproval(reply.Content) {
		if _, err := p.ApproveAndStart(ctx, conversationID); err != nil {
			return nil, err
		}
		return &PlanningOutcome{Approved: true}, nil
	}

	err := p.store.Update(ctx, conversationID, func(tx *conversation.Txn) error {
		if tx.Status != types.StatusPlanning || tx.Planning == nil {
			return fmt.Errorf("%w: %s", ErrNotPlanning, conversationID)
		}
		tx.Planning.Answers = append(tx.Planning.Answers, strings.TrimSpace(reply.Content))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.BuildPlan(ctx, conversationID)
}

// BuildPlan 调用规划 Agent 生成计划；解析失败时使用默认计划
func (p *Planner) BuildPlan(ctx context.Context, conversationID string) (*PlanningOutcome, error) {
	v, err, _ := p.group.Do("plan:"+conversationID, func() (any, error) {
		return p.buildPlan(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*PlanningOutcome), nil
}

func (p *Planner) buildPlan(ctx context.Context, conversationID string) (*PlanningOutcome, error) {
	conv, err := p.planningSnapshot(conversationID)
	if err != nil {
		return nil, err
	}

	defaults := p.cfg.DefaultLimits
	plan := DefaultPlan(conv.Topic, defaults)
	if p.agent != nil {
		text, err := p.call(ctx, conversationID, planningHistory(&conv), planPrompt)
		if err != nil {
			p.logger.Warn("plan generation failed, using default plan",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		} else {
			plan = ParsePlan(text, conv.Topic, defaults)
		}
	}

	out := &PlanningOutcome{Plan: &plan}
	err = p.store.Update(ctx, conversationID, func(tx *conversation.Txn) error {
		if tx.Status != types.StatusPlanning || tx.Planning == nil {
			return fmt.Errorf("%w: %s", ErrNotPlanning, conversationID)
		}
		tx.Planning.DraftPlan = plan.Text
		tx.Planning.ExpandedTopic = plan.ExpandedTopic
		tx.Planning.Objectives = plan.Objectives
		tx.Planning.Parameters = plan.Parameters
		out.Messages = append(out.Messages, p.manager.AppendLocked(tx, plannerMessage(FormatPlan(plan))))
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("plan drafted",
		zap.String("conversation_id", conversationID),
		zap.Bool("fallback", plan.Fallback),
	)
	return out, nil
}

// ApproveAndStart 把协商参数写入生效限额，初始化主持状态并进入 active
func (p *Planner) ApproveAndStart(ctx context.Context, conversationID string) (types.Conversation, error) {
	return p.store.UpdateAndGet(ctx, conversationID, func(tx *conversation.Txn) error {
		if tx.Status != types.StatusPlanning || tx.Planning == nil {
			return fmt.Errorf("%w: %s", ErrNotPlanning, conversationID)
		}
		plan := tx.Planning
		params := plan.Parameters
		if params == (types.Limits{}) {
			params = p.cfg.DefaultLimits
		}
		objectives := plan.Objectives
		if len(objectives) == 0 {
			objectives = []string{tx.Topic}
		}
		focus := plan.ExpandedTopic
		if focus == "" {
			focus = tx.Topic
		}

		plan.Approved = true
		tx.Limits = params
		tx.Moderation = &types.ModerationState{
			TopicDriftCount:  0,
			LastCheckAt:      p.store.Now(),
			Objectives:       append([]string(nil), objectives...),
			CurrentFocus:     focus,
			ParticipantTally: make(map[string]int),
		}
		// 超时从批准时刻起算
		tx.LastActivityAt = p.store.Now()
		return tx.Transition(types.StatusActive, "")
	})
}

// EditPlanningMessage 在规划阶段替换计划文本
func (p *Planner) EditPlanningMessage(ctx context.Context, conversationID, text string) (types.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Conversation{}, types.NewError(types.ErrInvalidRequest, "plan text is empty")
	}
	return p.store.UpdateAndGet(ctx, conversationID, func(tx *conversation.Txn) error {
		if tx.Status != types.StatusPlanning || tx.Planning == nil {
			return fmt.Errorf("%w: %s", ErrNotPlanning, conversationID)
		}
		tx.Planning.DraftPlan = text
		return nil
	})
}

// Expired 一个因规划超时被停止的会话；Closing 已追加到会话，调用方负责投递
type Expired struct {
	ConversationID string        `json:"conversation_id"`
	ChannelRef     string        `json:"channel_ref"`
	Closing        types.Message `json:"closing"`
}

// ExpirePlanning 停止规划时间超过 Timeout 的会话，并为每个会话追加告别消息
func (p *Planner) ExpirePlanning(ctx context.Context) []Expired {
	now := p.store.Now()
	var expired []Expired
	for _, id := range p.store.IDsByStatus(types.StatusPlanning) {
		var (
			item    Expired
			stopped bool
		)
		err := p.store.Update(ctx, id, func(tx *conversation.Txn) error {
			if tx.Status != types.StatusPlanning || tx.Planning == nil {
				return nil
			}
			if now.Sub(tx.Planning.StartedAt) <= p.cfg.Timeout {
				return nil
			}
			reason := fmt.Sprintf("planning timed out after %s", p.cfg.Timeout)
			if err := tx.Transition(types.StatusStopped, reason); err != nil {
				return err
			}
			stopped = true
			item = Expired{
				ConversationID: id,
				ChannelRef:     tx.ChannelRef,
				Closing:        p.manager.AppendLocked(tx, ClosingMessage(reason)),
			}
			return nil
		})
		if err != nil {
			p.logger.Warn("planning expiry failed", zap.String("conversation_id", id), zap.Error(err))
			continue
		}
		if stopped {
			expired = append(expired, item)
		}
	}
	if len(expired) > 0 {
		p.logger.Info("planning expired", zap.Int("count", len(expired)))
	}
	return expired
}

func (p *Planner) planningSnapshot(conversationID string) (types.Conversation, error) {
	conv, err := p.store.Get(conversationID)
	if err != nil {
		return types.Conversation{}, err
	}
	if conv.Status != types.StatusPlanning || conv.Planning == nil {
		return types.Conversation{}, fmt.Errorf("%w: %s", ErrNotPlanning, conversationID)
	}
	return conv, nil
}

func (p *Planner) askQuestions(ctx context.Context, conv *types.Conversation) []string {
	if p.agent == nil || p.cfg.MaxQuestions == 0 {
		return nil
	}
	text, err := p.call(ctx, conv.ID, planningHistory(conv), fmt.Sprintf(questionsPrompt, p.cfg.MaxQuestions))
	if err != nil {
		p.logger.Warn("question analysis failed, skipping questions",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return nil
	}
	return ParseQuestions(text, p.cfg.MaxQuestions)
}

// call 经熔断与重试调用规划 Agent，费用计入会话
func (p *Planner) call(ctx context.Context, conversationID string, history []types.Message, prompt string) (string, error) {
	res, err := resilience.Execute(ctx, p.executor, p.agent.ID(), func(ctx context.Context) (*types.AgentResult, error) {
		return p.agent.Respond(ctx, history, prompt)
	})
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	recordCost(ctx, p.store, conversationID, p.agent.ID(), res, p.logger)
	return res.Text, nil
}

func recordCost(ctx context.Context, store *conversation.Store, conversationID, agentID string, res *types.AgentResult, logger *zap.Logger) {
	err := store.Update(ctx, conversationID, func(tx *conversation.Txn) error {
		tx.Costs.Add(agentID, res.Tokens, res.CostUSD)
		return nil
	})
	if err != nil {
		logger.Warn("failed to record cost", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func plannerMessage(content string) types.Message {
	return types.Message{
		AuthorID:   PlannerAuthor,
		AuthorKind: types.AuthorSystem,
		Content:    content,
	}
}
