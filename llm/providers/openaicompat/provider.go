// =============================================================================
// Roundtable OpenAI-Compatible Agent
// =============================================================================
// One implementation for every provider that speaks the OpenAI Chat
// Completions dialect. Providers differ only by base URL, model, headers
// and price table.
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/roundtable/internal/tlsutil"
	"github.com/BaSui01/roundtable/llm"
	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
)

// ProviderKind is the registry key for this factory.
const ProviderKind = "openai-compatible"

// Config holds the configuration for an OpenAI-compatible agent.
type Config struct {
	// AgentID is the stable participant id used inside conversations.
	AgentID string

	// APIKey is the authentication key for the provider's API.
	APIKey string

	// BaseURL is the base URL for the provider's API (e.g., "https://api.deepseek.com").
	BaseURL string

	// Model is sent with every request.
	Model string

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration

	// EndpointPath is the chat completions endpoint path. Defaults to "/v1/chat/completions".
	EndpointPath string

	MaxTokens   int
	Temperature float32

	// Pricing converts reported usage into USD.
	Pricing llm.Pricing

	// BuildHeaders is an optional function to set custom headers on each request.
	// If nil, the default "Authorization: Bearer <apiKey>" header is used.
	BuildHeaders func(req *http.Request, apiKey string)
}

// Agent is an llm.Agent backed by a chat completions endpoint.
type Agent struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates a new OpenAI-compatible agent with the given config.
func New(cfg Config, logger *zap.Logger) *Agent {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(timeout),
		Logger: logger.With(zap.String("agent_id", cfg.AgentID)),
	}
}

// Factory adapts New to llm.Factory.
func Factory(def llm.AgentDefinition, logger *zap.Logger) (llm.Agent, error) {
	if def.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}
	if def.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return New(Config{
		AgentID:     def.ID,
		APIKey:      def.APIKey,
		BaseURL:     def.BaseURL,
		Model:       def.Model,
		Timeout:     def.Timeout,
		MaxTokens:   def.MaxTokens,
		Temperature: def.Temperature,
		Pricing:     def.Pricing,
	}, logger), nil
}

// ID implements llm.Agent.
func (a *Agent) ID() string { return a.Cfg.AgentID }

// buildHeaders applies headers to the HTTP request.
func (a *Agent) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if a.Cfg.BuildHeaders != nil {
		a.Cfg.BuildHeaders(req, a.Cfg.APIKey)
		return
	}
	if a.Cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.Cfg.APIKey)
	}
}

func (a *Agent) endpoint() string {
	return strings.TrimRight(a.Cfg.BaseURL, "/") + a.Cfg.EndpointPath
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// renderHistory converts the conversation into chat messages from this agent's point of view.
func (a *Agent) renderHistory(history []types.Message, systemPrompt string) []chatMessage {
	out := make([]chatMessage, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		if m.IsAgent() && m.AgentID == a.Cfg.AgentID {
			out = append(out, chatMessage{Role: "assistant", Content: m.Content})
			continue
		}
		out = append(out, chatMessage{Role: "user", Content: fmt.Sprintf("[%s]: %s", m.AuthorID, m.Content)})
	}
	return out
}

// Respond implements llm.Agent.
func (a *Agent) Respond(ctx context.Context, history []types.Message, systemPrompt string) (*types.AgentResult, error) {
	body := chatRequest{
		Model:       a.Cfg.Model,
		Messages:    a.renderHistory(history, systemPrompt),
		MaxTokens:   a.Cfg.MaxTokens,
		Temperature: a.Cfg.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.buildHeaders(httpReq)

	start := time.Now()
	resp, err := a.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(a.Cfg.AgentID)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return nil, mapHTTPError(resp.StatusCode, msg, a.Cfg.AgentID)
	}

	var oaResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode response: "+err.Error()).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(a.Cfg.AgentID)
	}
	if len(oaResp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "empty choices").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(a.Cfg.AgentID)
	}

	var usage types.TokenUsage
	if oaResp.Usage != nil {
		usage = types.TokenUsage{
			Input:  oaResp.Usage.PromptTokens,
			Output: oaResp.Usage.CompletionTokens,
			Total:  oaResp.Usage.TotalTokens,
		}
		if usage.Total == 0 {
			usage.Total = usage.Input + usage.Output
		}
	}

	a.Logger.Debug("completion finished",
		zap.String("model", oaResp.Model),
		zap.Int("input_tokens", usage.Input),
		zap.Int("output_tokens", usage.Output),
		zap.Duration("latency", time.Since(start)),
	)

	return &types.AgentResult{
		Text:    strings.TrimSpace(oaResp.Choices[0].Message.Content),
		AgentID: a.Cfg.AgentID,
		Tokens:  usage,
		CostUSD: a.Cfg.Pricing.Cost(usage),
	}, nil
}
