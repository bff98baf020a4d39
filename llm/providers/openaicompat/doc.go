// Package openaicompat implements the llm.Agent capability on top of any
// OpenAI-compatible Chat Completions endpoint.
//
// The conversation history is rendered as chat messages: the agent's own
// earlier replies become "assistant" turns, everything else becomes "user"
// turns prefixed with the author so the model can tell participants apart.
// HTTP failures are mapped to *types.Error; 429, 5xx and transport errors are
// marked retryable so llm/resilience can retry them.
//
// Usage:
//
//	a := openaicompat.New(openaicompat.Config{
//	    AgentID: "deepseek",
//	    APIKey:  cfg.APIKey,
//	    BaseURL: "https://api.deepseek.com",
//	    Model:   "deepseek-chat",
//	    Pricing: llm.Pricing{InputPerMillion: 0.27, OutputPerMillion: 1.1},
//	}, logger)
package openaicompat
