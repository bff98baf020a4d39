package llm

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
)

// ScriptedKind scripted provider 的注册键
const ScriptedKind = "scripted"

// ScriptedFactory 以定义中的 Replies 构建 ScriptedAgent，供本地 demo 使用
func ScriptedFactory(def AgentDefinition, _ *zap.Logger) (Agent, error) {
	replies := def.Replies
	if len(replies) == 0 {
		replies = []string{"(" + def.ID + " has nothing to add)"}
	}
	return NewScriptedAgent(def.ID, WithReplies(replies...)), nil
}

// ScriptedAgent 按脚本返回固定回复的 Agent，用于测试与 demo 模式
type ScriptedAgent struct {
	id      string
	replies []string
	cost    float64
	tokens  types.TokenUsage
	delay   time.Duration
	errs    []error

	mu      sync.Mutex
	calls   int
	prompts []string
}

// ScriptOption 配置 ScriptedAgent
type ScriptOption func(*ScriptedAgent)

// WithReplies 依次返回的文本；用尽后重复最后一条
func WithReplies(replies ...string) ScriptOption {
	return func(a *ScriptedAgent) { a.replies = replies }
}

// WithCost 每次调用的费用
func WithCost(cost float64) ScriptOption {
	return func(a *ScriptedAgent) { a.cost = cost }
}

// WithTokens 每次调用上报的 token 用量
func WithTokens(tokens types.TokenUsage) ScriptOption {
	return func(a *ScriptedAgent) { a.tokens = tokens }
}

// WithDelay 每次调用前的等待，遵守 context 取消
func WithDelay(d time.Duration) ScriptOption {
	return func(a *ScriptedAgent) { a.delay = d }
}

// WithErrors 前 len(errs) 次调用依次返回的错误，nil 表示该次成功
func WithErrors(errs ...error) ScriptOption {
	return func(a *ScriptedAgent) { a.errs = errs }
}

// NewScriptedAgent 创建脚本 Agent
func NewScriptedAgent(id string, opts ...ScriptOption) *ScriptedAgent {
	a := &ScriptedAgent{id: id, replies: []string{id + " says hello"}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID 实现 Agent
func (a *ScriptedAgent) ID() string { return a.id }

// Respond 实现 Agent
func (a *ScriptedAgent) Respond(ctx context.Context, history []types.Message, systemPrompt string) (*types.AgentResult, error) {
	a.mu.Lock()
	n := a.calls
	a.calls++
	a.prompts = append(a.prompts, systemPrompt)
	a.mu.Unlock()

	if a.delay > 0 {
		t := time.NewTimer(a.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if n < len(a.errs) && a.errs[n] != nil {
		return nil, a.errs[n]
	}

	text := ""
	if len(a.replies) > 0 {
		text = a.replies[min(n, len(a.replies)-1)]
	}
	return &types.AgentResult{
		Text:    text,
		AgentID: a.id,
		Tokens:  a.tokens,
		CostUSD: a.cost,
	}, nil
}

// Calls 返回已发生的调用次数
func (a *ScriptedAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Prompts 返回每次调用收到的系统提示
func (a *ScriptedAgent) Prompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}
