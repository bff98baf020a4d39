package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/roundtable/agent/conversation"
	"github.com/BaSui01/roundtable/internal/metrics"
	"github.com/BaSui01/roundtable/llm"
	"github.com/BaSui01/roundtable/llm/resilience"
	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
)

// ModeratorAuthor 主持人消息的作者 id
const ModeratorAuthor = "moderator"

// ModeratorConfig 主持配置
type ModeratorConfig struct {
	CheckInterval    int     `json:"check_interval" yaml:"check_interval"`
	DriftWindow      int     `json:"drift_window" yaml:"drift_window"`
	DriftThreshold   float64 `json:"drift_threshold" yaml:"drift_threshold"`
	MaxDriftWarnings int     `json:"max_drift_warnings" yaml:"max_drift_warnings"`
}

// DefaultModeratorConfig 返回默认主持配置
func DefaultModeratorConfig() ModeratorConfig {
	return ModeratorConfig{
		CheckInterval:    10,
		DriftWindow:      5,
		DriftThreshold:   0.6,
		MaxDriftWarnings: 3,
	}
}

// Decision 一次 Observe 的结果。Messages 已追加到会话，调用方负责投递。
type Decision struct {
	Drift        *DriftAssessment `json:"drift,omitempty"`
	Strikes      int              `json:"strikes"`
	Stopped      bool             `json:"stopped"`
	StopReason   string           `json:"stop_reason,omitempty"`
	QualityScore float64          `json:"quality_score"`
	Messages     []types.Message  `json:"messages,omitempty"`
}

// Moderator 在 active 会话中统计发言、检测话题偏离并执行限额
type Moderator struct {
	cfg      ModeratorConfig
	manager  *conversation.ContextManager
	store    *conversation.Store
	agent    llm.Agent
	executor *resilience.Executor
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewModerator 创建主持人；agent 为 nil 时不做偏离检测
func NewModerator(cfg ModeratorConfig, manager *conversation.ContextManager, agent llm.Agent, executor *resilience.Executor, collector *metrics.Collector, logger *zap.Logger) *Moderator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultModeratorConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.DriftWindow <= 0 {
		cfg.DriftWindow = def.DriftWindow
	}
	if cfg.DriftThreshold <= 0 || cfg.DriftThreshold > 1 {
		cfg.DriftThreshold = def.DriftThreshold
	}
	if cfg.MaxDriftWarnings <= 0 {
		cfg.MaxDriftWarnings = def.MaxDriftWarnings
	}
	if executor == nil {
		executor = resilience.NewExecutor(nil, nil, logger)
	}
	return &Moderator{
		cfg:      cfg,
		manager:  manager,
		store:    manager.Store(),
		agent:    agent,
		executor: executor,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "moderator")),
	}
}

// Observe 处理一条已追加的消息：更新发言统计，按间隔检测偏离，最后检查限额。
// 非 active 会话直接返回空决策。
func (m *Moderator) Observe(ctx context.Context, conversationID string, msg types.Message) (*Decision, error) {
	var (
		active     bool
		due        bool
		recent     []types.Message
		objectives []string
		focus      string
	)
	err := m.store.Update(ctx, conversationID, func(tx *conversation.Txn) error {
		if tx.Status != types.StatusActive {
			return nil
		}
		active = true
		ensureModeration(tx.Conversation)
		if msg.AuthorKind != types.AuthorSystem && msg.AuthorID != "" {
			tx.Moderation.ParticipantTally[msg.AuthorID]++
		}
		// 一轮内可能追加多条消息，计数会跨过整倍数，因此按阈值而不是取模判断
		mod := tx.Moderation
		if mod.NextCheckAt <= 0 {
			mod.NextCheckAt = m.cfg.CheckInterval
		}
		total := tx.TotalMessages()
		due = total >= mod.NextCheckAt
		if due {
			mod.NextCheckAt = (total/m.cfg.CheckInterval + 1) * m.cfg.CheckInterval
			recent = append([]types.Message(nil), tx.RecentMessages(m.cfg.DriftWindow)...)
			objectives = append([]string(nil), tx.Moderation.Objectives...)
			focus = tx.Moderation.CurrentFocus
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	decision := &Decision{}
	if !active {
		return decision, nil
	}

	var assessment *DriftAssessment
	if due && m.agent != nil {
		a := m.assessDrift(ctx, conversationID, recent, objectives, focus)
		assessment = &a
		decision.Drift = assessment
	}

	err = m.store.Update(ctx, conversationID, func(tx *conversation.Txn) error {
		if tx.Status != types.StatusActive {
			return nil
		}
		ensureModeration(tx.Conversation)
		mod := tx.Moderation

		if assessment != nil {
			mod.LastCheckAt = m.store.Now()
			if assessment.DriftScore > m.cfg.DriftThreshold {
				mod.TopicDriftCount++
				text := m.redirectText(mod, assessment)
				decision.Messages = append(decision.Messages, m.manager.AppendLocked(tx, moderatorMessage(text)))
			} else {
				mod.TopicDriftCount = 0
			}
		}
		decision.Strikes = mod.TopicDriftCount
		mod.QualityScore = QualityScore(mod.ParticipantTally, mod.TopicDriftCount, m.cfg.MaxDriftWarnings)
		decision.QualityScore = mod.QualityScore

		if res := m.manager.CheckLimitsLocked(tx.Conversation); res.Exceeded {
			decision.Stopped = true
			decision.StopReason = res.Reason
			decision.Messages = append(decision.Messages, m.manager.AppendLocked(tx, ClosingMessage(res.Reason)))
			return tx.Transition(types.StatusStopped, res.Reason)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if assessment != nil && assessment.DriftScore > m.cfg.DriftThreshold {
		kind := "drift_redirect"
		if decision.Strikes > m.cfg.MaxDriftWarnings {
			kind = "drift_excessive"
		}
		m.metrics.RecordModeration(kind)
		m.logger.Info("topic drift detected",
			zap.String("conversation_id", conversationID),
			zap.Float64("drift_score", assessment.DriftScore),
			zap.Int("strikes", decision.Strikes),
		)
	}
	if decision.Stopped {
		m.metrics.RecordModeration("limit_stop")
		m.logger.Info("conversation stopped by limits",
			zap.String("conversation_id", conversationID),
			zap.String("reason", decision.StopReason),
		)
	}
	return decision, nil
}

// redirectText 警告次数内给出引导，超出后给出过度偏离警告；两者都不终止会话
func (m *Moderator) redirectText(mod *types.ModerationState, a *DriftAssessment) string {
	if mod.TopicDriftCount <= m.cfg.MaxDriftWarnings {
		text := fmt.Sprintf("Let's bring the discussion back to: %s.", mod.CurrentFocus)
		if a.Suggestion != "" {
			text += " " + a.Suggestion
		}
		return text
	}
	return fmt.Sprintf("The discussion has drifted off topic %d times in a row. Please refocus on: %s.",
		mod.TopicDriftCount, mod.CurrentFocus)
}

func (m *Moderator) assessDrift(ctx context.Context, conversationID string, recent []types.Message, objectives []string, focus string) DriftAssessment {
	res, err := resilience.Execute(ctx, m.executor, m.agent.ID(), func(ctx context.Context) (*types.AgentResult, error) {
		return m.agent.Respond(ctx, driftHistory(recent, objectives, focus), driftPrompt)
	})
	if err != nil || res == nil {
		m.logger.Warn("drift check failed, assuming on topic",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return DriftAssessment{OnTopic: true, Fallback: true}
	}
	recordCost(ctx, m.store, conversationID, m.agent.ID(), res, m.logger)
	return ParseDrift(res.Text)
}

// QualityScore 由参与人数、人均发言数与偏离次数估算会话质量（0–1），仅供参考
func QualityScore(tally map[string]int, strikes, maxWarnings int) float64 {
	participants := len(tally)
	if participants == 0 {
		return 0
	}
	total := 0
	for _, n := range tally {
		total += n
	}
	avg := float64(total) / float64(participants)

	breadth := clamp(float64(participants)/4, 0, 1)
	depth := clamp(avg/5, 0, 1)
	focus := 1 - clamp(float64(strikes)/float64(maxWarnings+1), 0, 1)
	return clamp(0.3*breadth+0.3*depth+0.4*focus, 0, 1)
}

func ensureModeration(c *types.Conversation) {
	if c.Moderation == nil {
		c.Moderation = &types.ModerationState{CurrentFocus: c.Topic, Objectives: []string{c.Topic}}
	}
	if c.Moderation.ParticipantTally == nil {
		c.Moderation.ParticipantTally = make(map[string]int)
	}
}

// ClosingMessage 会话被停止时由主持人发出的告别消息
func ClosingMessage(reason string) types.Message {
	return moderatorMessage(fmt.Sprintf("This discussion is now closed: %s. Thank you all for participating.", reason))
}

// ConclusionMessage 会话被判定为顺利结束时的总结消息
func ConclusionMessage(summary string) types.Message {
	text := "This discussion has reached its conclusion. Thank you all for participating."
	if summary = strings.TrimSpace(summary); summary != "" {
		text = "This discussion has reached its conclusion: " + summary
	}
	return moderatorMessage(text)
}

func moderatorMessage(content string) types.Message {
	return types.Message{
		AuthorID:   ModeratorAuthor,
		AuthorKind: types.AuthorSystem,
		Content:    content,
	}
}
