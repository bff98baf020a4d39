package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/roundtable/llm/tokenizer"
	"github.com/BaSui01/roundtable/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultKeepRecent 压缩后保留的最近消息数
const DefaultKeepRecent = 10

// CompressedAuthor 压缩摘要消息的作者 id
const CompressedAuthor = "compressed-context"

// ContextSource 提供外部存储的压缩上下文（通常是文档存储）
type ContextSource interface {
	FetchCompressedContext(ctx context.Context, conversationID string) (string, error)
}

// LimitResult 限额检查结果
type LimitResult struct {
	Exceeded bool   `json:"exceeded"`
	Reason   string `json:"reason,omitempty"`
}

// ContextManager 负责消息追加、上下文压缩与限额检查
type ContextManager struct {
	store   *Store
	source  ContextSource
	counter tokenizer.Counter
	keep    int
	logger  *zap.Logger
}

// ManagerOption 配置 ContextManager
type ManagerOption func(*ContextManager)

// WithContextSource 设置压缩上下文来源
func WithContextSource(src ContextSource) ManagerOption {
	return func(m *ContextManager) { m.source = src }
}

// WithCounter 设置 token 计数器，用于未携带 token 数的消息
func WithCounter(c tokenizer.Counter) ManagerOption {
	return func(m *ContextManager) { m.counter = c }
}

// WithKeepRecent 设置压缩后保留的消息数
func WithKeepRecent(k int) ManagerOption {
	return func(m *ContextManager) {
		if k > 0 {
			m.keep = k
		}
	}
}

// NewContextManager 创建上下文管理器
func NewContextManager(store *Store, logger *zap.Logger, opts ...ManagerOption) *ContextManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &ContextManager{
		store:   store,
		counter: tokenizer.NewEstimator(),
		keep:    DefaultKeepRecent,
		logger:  logger.With(zap.String("component", "context_manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store 返回底层存储
func (m *ContextManager) Store() *Store {
	return m.store
}

// Append 追加一条消息并更新计数，返回补全后的消息
func (m *ContextManager) Append(ctx context.Context, conversationID string, msg types.Message) (types.Message, error) {
	m.prepare(conversationID, &msg)
	err := m.store.Update(ctx, conversationID, func(tx *Txn) error {
		appendLocked(tx.Conversation, msg, m.store.Now())
		return nil
	})
	if err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// prepare 补全 id、时间戳与 token 数
func (m *ContextManager) prepare(conversationID string, msg *types.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.store.Now()
	}
	if msg.TokenCount == 0 && msg.Content != "" {
		msg.TokenCount = m.counter.Count(msg.Content)
	}
}

// AppendLocked 在已持有会话锁的 Update 回调中追加消息
func (m *ContextManager) AppendLocked(tx *Txn, msg types.Message) types.Message {
	m.prepare(tx.ID, &msg)
	appendLocked(tx.Conversation, msg, m.store.Now())
	return msg
}

// appendLocked 的活跃时间不超过存储时钟 now，传输层给出的未来时间戳不会推迟超时
func appendLocked(c *types.Conversation, msg types.Message, now time.Time) {
	c.Messages = append(c.Messages, msg)
	c.MessageCount++
	c.TokenCount += msg.TokenCount
	activity := msg.Timestamp
	if activity.After(now) {
		activity = now
	}
	if activity.After(c.LastActivityAt) {
		c.LastActivityAt = activity
	}
}

// ShouldCompress 消息数超过压缩阈值时返回 true。
// 压缩后剩余 keepFor+1 条，不会立即再次满足条件。
func (m *ContextManager) ShouldCompress(conversationID string) (bool, error) {
	var should bool
	err := m.store.View(conversationID, func(c *types.Conversation) {
		threshold := c.Limits.CompressionThreshold
		should = threshold > 0 && c.MessageCount > max(threshold, m.keepFor(c)+1)
	})
	return should, err
}

// keepFor 压缩时保留的最近消息数：不超过阈值的一半，
// 避免计划协商出很小的阈值时每条新消息都触发一次压缩
func (m *ContextManager) keepFor(c *types.Conversation) int {
	threshold := c.Limits.CompressionThreshold
	if threshold <= 0 {
		return m.keep
	}
	return max(1, min(m.keep, threshold/2))
}

// Compress 用外部压缩上下文替换除最近 K 条以外的消息。
// 获取失败或内容为空时不做任何修改，返回 false。
func (m *ContextManager) Compress(ctx context.Context, conversationID string) (bool, error) {
	if m.source == nil {
		return false, nil
	}
	if _, err := m.store.lookup(conversationID); err != nil {
		return false, err
	}

	summary, err := m.source.FetchCompressedContext(ctx, conversationID)
	if err != nil {
		m.logger.Warn("fetch compressed context failed, skipping compression",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return false, nil
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return false, nil
	}

	compressed := false
	err = m.store.Update(ctx, conversationID, func(tx *Txn) error {
		keep := m.keepFor(tx.Conversation)
		if len(tx.Messages) <= keep {
			return nil
		}
		tail := tx.Messages[len(tx.Messages)-keep:]
		synthetic := types.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			AuthorID:       CompressedAuthor,
			AuthorKind:     types.AuthorSystem,
			Content:        "[compressed context]\n" + summary,
			Timestamp:      tail[0].Timestamp,
			TokenCount:     m.counter.Count(summary),
		}

		msgs := make([]types.Message, 0, keep+1)
		msgs = append(msgs, synthetic)
		msgs = append(msgs, tail...)

		tokens := 0
		for _, msg := range msgs {
			tokens += msg.TokenCount
		}
		dropped := len(tx.Messages) - keep
		tx.Messages = msgs
		tx.CompressedMessages += tx.MessageCount - len(msgs)
		tx.MessageCount = len(msgs)
		tx.TokenCount = tokens
		compressed = true

		m.logger.Info("conversation compressed",
			zap.String("conversation_id", conversationID),
			zap.Int("dropped", dropped),
			zap.Int("kept", keep),
		)
		return nil
	})
	return compressed, err
}

// CheckLimits 依次检查消息数上限与会话超时，返回第一个违反项。
// 费用上限由调度器在每次 Agent 调用后检查。
func (m *ContextManager) CheckLimits(conversationID string) (LimitResult, error) {
	var res LimitResult
	err := m.store.View(conversationID, func(c *types.Conversation) {
		res = checkLimits(c, m.store.Now())
	})
	return res, err
}

// CheckLimitsLocked 在已持有会话锁时检查限额
func (m *ContextManager) CheckLimitsLocked(c *types.Conversation) LimitResult {
	return checkLimits(c, m.store.Now())
}

func checkLimits(c *types.Conversation, now time.Time) LimitResult {
	if c.Limits.MaxMessages > 0 && c.TotalMessages() >= c.Limits.MaxMessages {
		return LimitResult{Exceeded: true, Reason: fmt.Sprintf("message limit reached (%d)", c.Limits.MaxMessages)}
	}
	if c.Limits.Timeout > 0 && now.Sub(c.LastActivityAt) > c.Limits.Timeout {
		return LimitResult{Exceeded: true, Reason: fmt.Sprintf("session timed out after %s of inactivity", c.Limits.Timeout)}
	}
	return LimitResult{}
}
