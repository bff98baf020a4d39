package llm

import (
	"context"
	"time"

	"github.com/BaSui01/roundtable/types"
)

// Agent 是编排核心对单个 AI 参与者的唯一依赖。
// 实现必须可并发调用；错误若可重试应返回 Retryable 的 *types.Error。
type Agent interface {
	// ID 返回在会话中使用的稳定标识
	ID() string

	// Respond 基于完整历史与系统提示生成一条回复
	Respond(ctx context.Context, history []types.Message, systemPrompt string) (*types.AgentResult, error)
}

// AgentDefinition 描述如何构建一个 Agent
type AgentDefinition struct {
	ID          string        `json:"id" yaml:"id"`
	Provider    string        `json:"provider" yaml:"provider"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model" yaml:"model"`
	APIKey      string        `json:"api_key" yaml:"api_key"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Temperature float32       `json:"temperature" yaml:"temperature"`
	Pricing     Pricing       `json:"pricing" yaml:"pricing"`
	// Replies 仅 scripted provider 使用
	Replies []string `json:"replies,omitempty" yaml:"replies,omitempty"`
}

// Pricing 每百万 token 的美元价格
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million" yaml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" yaml:"output_per_million"`
}

// Cost 计算一次调用的费用
func (p Pricing) Cost(tokens types.TokenUsage) float64 {
	return float64(tokens.Input)*p.InputPerMillion/1e6 + float64(tokens.Output)*p.OutputPerMillion/1e6
}

// AgentFunc 将函数适配为 Agent
type AgentFunc struct {
	AgentID string
	Fn      func(ctx context.Context, history []types.Message, systemPrompt string) (*types.AgentResult, error)
}

// ID 实现 Agent
func (f AgentFunc) ID() string { return f.AgentID }

// Respond 实现 Agent
func (f AgentFunc) Respond(ctx context.Context, history []types.Message, systemPrompt string) (*types.AgentResult, error) {
	return f.Fn(ctx, history, systemPrompt)
}
