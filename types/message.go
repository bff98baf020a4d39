// Package types provides core types shared across the roundtable packages.
// This package has ZERO dependencies on other roundtable packages to avoid circular imports.
package types

import (
	"slices"
	"time"
)

// MaxReplyTargets caps how many earlier messages a response may reference.
const MaxReplyTargets = 5

// AuthorKind distinguishes who authored a message. System messages are synthetic.
type AuthorKind string

const (
	AuthorHuman  AuthorKind = "human"
	AuthorAgent  AuthorKind = "agent"
	AuthorSystem AuthorKind = "system"
)

// Message is immutable once appended to a conversation.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	AuthorID       string     `json:"author_id"`
	AuthorKind     AuthorKind `json:"author_kind"`
	Content        string     `json:"content"`
	ReplyToIDs     []string   `json:"reply_to_ids,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	AgentID        string     `json:"agent_id,omitempty"`
	TokenCount     int        `json:"token_count,omitempty"`
}

// IsAgent reports whether the message was authored by an agent.
func (m Message) IsAgent() bool {
	return m.AuthorKind == AuthorAgent
}

// NewHumanMessage creates a message authored by a human participant.
func NewHumanMessage(conversationID, authorID, content string) Message {
	return Message{
		ConversationID: conversationID,
		AuthorID:       authorID,
		AuthorKind:     AuthorHuman,
		Content:        content,
		Timestamp:      time.Now(),
	}
}

// NewAgentMessage creates a message authored by an agent.
func NewAgentMessage(conversationID, agentID, content string, replyTo []string) Message {
	return Message{
		ConversationID: conversationID,
		AuthorID:       agentID,
		AuthorKind:     AuthorAgent,
		AgentID:        agentID,
		Content:        content,
		ReplyToIDs:     capReplyTargets(replyTo),
		Timestamp:      time.Now(),
	}
}

func capReplyTargets(ids []string) []string {
	if len(ids) > MaxReplyTargets {
		ids = ids[len(ids)-MaxReplyTargets:]
	}
	return slices.Clone(ids)
}

func (m Message) clone() Message {
	m.ReplyToIDs = slices.Clone(m.ReplyToIDs)
	return m
}

// TokenUsage is the token accounting of one agent call.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// AgentResult is returned by one dispatch attempt. It is not persisted directly;
// the coordinator converts it into a Message on success.
type AgentResult struct {
	Text       string     `json:"text"`
	AgentID    string     `json:"agent_id"`
	Tokens     TokenUsage `json:"tokens"`
	CostUSD    float64    `json:"cost_usd"`
	ReplyToIDs []string   `json:"reply_to_ids,omitempty"`
}

// ToMessage converts a successful result into a conversation message.
func (r AgentResult) ToMessage(conversationID string) Message {
	msg := NewAgentMessage(conversationID, r.AgentID, r.Text, r.ReplyToIDs)
	msg.TokenCount = r.Tokens.Total
	return msg
}
