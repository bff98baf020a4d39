package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/agent/conversation"
	"github.com/BaSui01/roundtable/internal/ratelimit"
	"github.com/BaSui01/roundtable/llm"
	"github.com/BaSui01/roundtable/llm/resilience"
	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
)

// DocsLimiterKey 文档写入共享的限流键，同时作为熔断目标名
const DocsLimiterKey = "docs"

// DefaultSummaryLimit 无摘要模型时机械压缩上下文的最大字节数
const DefaultSummaryLimit = 4000

const summaryPrompt = `You maintain the running summary of a group discussion.
Previous summary:
%s

Rewrite the summary so it also covers the new messages above. Keep decisions,
open questions and who argued what. Reply with the summary text only.`

// 单条消息在机械摘要中的最大长度
const digestLineLimit = 200

type cursor struct {
	messageID string
	at        time.Time
}

// Documenter 被动文档记录：把上次刷新以来的新消息写成详细记录，
// 并维护供上下文压缩使用的摘要。
type Documenter struct {
	store         Store
	conversations *conversation.Store
	limiter       *ratelimit.Registry
	executor      *resilience.Executor
	summarizer    llm.Agent
	summaryLimit  int
	logger        *zap.Logger

	mu      sync.Mutex
	cursors map[string]cursor
	locks   map[string]*sync.Mutex
}

// DocumenterOption 配置 Documenter
type DocumenterOption func(*Documenter)

// WithRateLimiter 写入前在 "docs" 键上等待令牌
func WithRateLimiter(r *ratelimit.Registry) DocumenterOption {
	return func(d *Documenter) { d.limiter = r }
}

// WithExecutor 通过重试与熔断执行存储写入和摘要调用
func WithExecutor(e *resilience.Executor) DocumenterOption {
	return func(d *Documenter) { d.executor = e }
}

// WithSummarizer 使用模型生成压缩上下文
func WithSummarizer(agent llm.Agent) DocumenterOption {
	return func(d *Documenter) { d.summarizer = agent }
}

// WithSummaryLimit 设置机械摘要的最大字节数
func WithSummaryLimit(n int) DocumenterOption {
	return func(d *Documenter) {
		if n > 0 {
			d.summaryLimit = n
		}
	}
}

// NewDocumenter 创建文档记录器
func NewDocumenter(store Store, conversations *conversation.Store, logger *zap.Logger, opts ...DocumenterOption) *Documenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Documenter{
		store:         store,
		conversations: conversations,
		summaryLimit:  DefaultSummaryLimit,
		logger:        logger.With(zap.String("component", "documenter")),
		cursors:       make(map[string]cursor),
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.executor == nil {
		d.executor = resilience.NewExecutor(nil, nil, logger)
	}
	return d
}

// Store 返回底层文档存储
func (d *Documenter) Store() Store {
	return d.store
}

// FetchCompressedContext 满足 conversation.ContextSource
func (d *Documenter) FetchCompressedContext(ctx context.Context, conversationID string) (string, error) {
	return d.store.FetchCompressedContext(ctx, conversationID)
}

// Flush 记录上次刷新以来的新消息；没有新消息时不写入
func (d *Documenter) Flush(ctx context.Context, conversationID string) error {
	lock := d.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	d.mu.Lock()
	cur := d.cursors[conversationID]
	d.mu.Unlock()

	var (
		conv  types.Conversation
		fresh []types.Message
	)
	err := d.conversations.View(conversationID, func(c *types.Conversation) {
		conv = types.Conversation{ID: c.ID, Topic: c.Topic, Status: c.Status}
		fresh = append(fresh, since(c.Messages, cur)...)
	})
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		return nil
	}

	detail := FormatDetail(conv, fresh)
	if err := d.write(ctx, func(ctx context.Context) error {
		return d.store.AppendDetail(ctx, conversationID, detail)
	}); err != nil {
		return fmt.Errorf("append detail: %w", err)
	}

	last := fresh[len(fresh)-1]
	d.mu.Lock()
	d.cursors[conversationID] = cursor{messageID: last.ID, at: last.Timestamp}
	d.mu.Unlock()

	d.logger.Debug("documentation flushed",
		zap.String("conversation_id", conversationID),
		zap.Int("messages", len(fresh)),
	)

	summary, err := d.summarize(ctx, conversationID, fresh)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	if err := d.write(ctx, func(ctx context.Context) error {
		return d.store.SaveCompressedContext(ctx, conversationID, summary)
	}); err != nil {
		return fmt.Errorf("save compressed context: %w", err)
	}
	return nil
}

// Forget 释放会话的游标
func (d *Documenter) Forget(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cursors, conversationID)
	delete(d.locks, conversationID)
}

func (d *Documenter) lockFor(conversationID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[conversationID] = l
	}
	return l
}

func (d *Documenter) write(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, DocsLimiterKey); err != nil {
			return err
		}
	}
	_, err := resilience.Execute(ctx, d.executor, DocsLimiterKey, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (d *Documenter) summarize(ctx context.Context, conversationID string, fresh []types.Message) (string, error) {
	previous, err := d.store.FetchCompressedContext(ctx, conversationID)
	if err != nil {
		d.logger.Warn("fetch previous summary failed", zap.String("conversation_id", conversationID), zap.Error(err))
		previous = ""
	}

	if d.summarizer != nil {
		prompt := fmt.Sprintf(summaryPrompt, orNone(previous))
		res, err := resilience.Execute(ctx, d.executor, d.summarizer.ID(), func(ctx context.Context) (*types.AgentResult, error) {
			return d.summarizer.Respond(ctx, fresh, prompt)
		})
		if err == nil && res != nil && strings.TrimSpace(res.Text) != "" {
			d.recordCost(ctx, conversationID, res)
			return strings.TrimSpace(res.Text), nil
		}
		d.logger.Warn("summarizer failed, using digest",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	return Digest(previous, fresh, d.summaryLimit), nil
}

func (d *Documenter) recordCost(ctx context.Context, conversationID string, res *types.AgentResult) {
	err := d.conversations.Update(ctx, conversationID, func(tx *conversation.Txn) error {
		tx.Costs.Add(d.summarizer.ID(), res.Tokens, res.CostUSD)
		return nil
	})
	if err != nil {
		d.logger.Warn("failed to record cost", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// since 返回游标之后的消息。游标消息已被压缩掉时按时间戳定位。
// 压缩生成的合成消息不计入文档。
func since(msgs []types.Message, cur cursor) []types.Message {
	start := 0
	if cur.messageID != "" {
		start = -1
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].ID == cur.messageID {
				start = i + 1
				break
			}
		}
		if start < 0 {
			start = len(msgs)
			for i, m := range msgs {
				if m.AuthorID != conversation.CompressedAuthor && m.Timestamp.After(cur.at) {
					start = i
					break
				}
			}
		}
	}
	out := make([]types.Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		if m.AuthorID == conversation.CompressedAuthor {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FormatDetail 把一批消息格式化为详细记录
func FormatDetail(conv types.Conversation, msgs []types.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s [%s]\n", conv.Topic, conv.Status)
	for _, m := range msgs {
		fmt.Fprintf(&b, "- %s %s: %s\n", m.Timestamp.UTC().Format(time.RFC3339), speaker(m), m.Content)
	}
	return b.String()
}

// Digest 在旧摘要后追加截断的新消息，并保留不超过 limit 字节的尾部
func Digest(previous string, msgs []types.Message, limit int) string {
	var b strings.Builder
	if previous != "" {
		b.WriteString(previous)
		b.WriteString("\n")
	}
	for _, m := range msgs {
		line := strings.Join(strings.Fields(m.Content), " ")
		if r := []rune(line); len(r) > digestLineLimit {
			line = string(r[:digestLineLimit]) + "…"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker(m), line)
	}
	out := strings.TrimRight(b.String(), "\n")
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
		if i := strings.IndexByte(out, '\n'); i >= 0 {
			out = out[i+1:]
		}
	}
	return out
}

func speaker(m types.Message) string {
	if m.AgentID != "" {
		return m.AgentID
	}
	return m.AuthorID
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none yet)"
	}
	return s
}

var _ conversation.ContextSource = (*Documenter)(nil)
