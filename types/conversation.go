package types

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

// IsTerminal reports whether no further dispatch or moderation is accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusStopped
}

// CanTransition 校验状态机迁移：
// planning → active | stopped；active ⇄ paused；active | paused → completed；
// 任意非终态 → stopped。终态不再接受任何迁移。
func CanTransition(from, to Status) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	switch to {
	case StatusStopped:
		return true
	case StatusActive:
		return from == StatusPlanning || from == StatusPaused
	case StatusPaused:
		return from == StatusActive
	case StatusCompleted:
		return from == StatusActive || from == StatusPaused
	default:
		return false
	}
}

// Limits are the effective ceilings applied to an active conversation.
// They are copied from the approved plan and never read from PlanningState afterwards.
type Limits struct {
	MaxMessages          int           `json:"max_messages" yaml:"max_messages"`
	CostLimit            float64       `json:"cost_limit" yaml:"cost_limit"`
	Timeout              time.Duration `json:"timeout" yaml:"timeout"`
	CompressionThreshold int           `json:"compression_threshold" yaml:"compression_threshold"`
}

// PlanParameters are the limits negotiated during planning.
type PlanParameters = Limits

// PlanningState exists only while the conversation is planning.
type PlanningState struct {
	Questions     []string       `json:"questions,omitempty"`
	Answers       []string       `json:"answers,omitempty"`
	DraftPlan     string         `json:"draft_plan,omitempty"`
	ExpandedTopic string         `json:"expanded_topic,omitempty"`
	Objectives    []string       `json:"objectives,omitempty"`
	Parameters    PlanParameters `json:"parameters"`
	Approved      bool           `json:"approved"`
	StartedAt     time.Time      `json:"started_at"`
}

// ModerationState is initialized on approval and kept for the rest of the conversation.
// NextCheckAt is the total message count at which the next drift check runs.
type ModerationState struct {
	TopicDriftCount  int            `json:"topic_drift_count"`
	LastCheckAt      time.Time      `json:"last_check_at"`
	NextCheckAt      int            `json:"next_check_at"`
	Objectives       []string       `json:"objectives,omitempty"`
	CurrentFocus     string         `json:"current_focus,omitempty"`
	ParticipantTally map[string]int `json:"participant_tally"`
	QualityScore     float64        `json:"quality_score"`
}

// AgentCost is the per-agent cost breakdown.
type AgentCost struct {
	Cost         float64 `json:"cost"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Calls        int     `json:"calls"`
}

// CostTracking holds running totals in USD.
type CostTracking struct {
	TotalCost float64              `json:"total_cost"`
	PerAgent  map[string]AgentCost `json:"per_agent,omitempty"`
}

// Add accumulates one agent result. Negative costs are ignored so the total never decreases.
func (c *CostTracking) Add(agentID string, tokens TokenUsage, cost float64) {
	if cost < 0 {
		cost = 0
	}
	if c.PerAgent == nil {
		c.PerAgent = make(map[string]AgentCost)
	}
	ac := c.PerAgent[agentID]
	ac.Cost += cost
	ac.InputTokens += tokens.Input
	ac.OutputTokens += tokens.Output
	ac.Calls++
	c.PerAgent[agentID] = ac
	c.TotalCost += cost
}

// Conversation is the aggregate root, one per thread.
type Conversation struct {
	ID         string `json:"id"`
	ChannelRef string `json:"channel_ref"`
	Topic      string `json:"topic"`
	Status     Status `json:"status"`
	StopReason string `json:"stop_reason,omitempty"`

	Messages []Message `json:"messages"`

	SelectedAgents []string `json:"selected_agents"`
	DisabledAgents []string `json:"disabled_agents,omitempty"`
	ActiveAgents   []string `json:"active_agents,omitempty"`

	Planning   *PlanningState   `json:"planning,omitempty"`
	Moderation *ModerationState `json:"moderation,omitempty"`

	Costs      CostTracking `json:"costs"`
	ImageCosts CostTracking `json:"image_costs"`
	Limits     Limits       `json:"limits"`

	// MessageCount mirrors len(Messages); messages folded away by compression
	// are tracked in CompressedMessages.
	MessageCount       int       `json:"message_count"`
	CompressedMessages int       `json:"compressed_messages,omitempty"`
	TokenCount         int       `json:"token_count"`
	CreatedAt          time.Time `json:"created_at"`
	LastActivityAt     time.Time `json:"last_activity_at"`
}

// DispatchableAgents returns selectedAgents − disabledAgents, preserving selection order.
func (c *Conversation) DispatchableAgents() []string {
	out := make([]string, 0, len(c.SelectedAgents))
	for _, id := range c.SelectedAgents {
		if !slices.Contains(c.DisabledAgents, id) {
			out = append(out, id)
		}
	}
	return out
}

// MarkActive records that agentID has produced at least one response.
func (c *Conversation) MarkActive(agentID string) {
	if !slices.Contains(c.ActiveAgents, agentID) {
		c.ActiveAgents = append(c.ActiveAgents, agentID)
	}
}

// Disable excludes agentID from future dispatch.
func (c *Conversation) Disable(agentID string) {
	if !slices.Contains(c.DisabledAgents, agentID) {
		c.DisabledAgents = append(c.DisabledAgents, agentID)
	}
}

// CostLimitReached reports whether the effective cost ceiling (if any) has been reached.
func (c *Conversation) CostLimitReached() bool {
	return c.Limits.CostLimit > 0 && c.Costs.TotalCost >= c.Limits.CostLimit
}

// TotalMessages counts every message ever accepted, including compressed ones.
func (c *Conversation) TotalMessages() int {
	return c.MessageCount + c.CompressedMessages
}

// RecentMessages returns up to n of the most recent messages.
func (c *Conversation) RecentMessages(n int) []Message {
	if n <= 0 || n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// Clone returns a deep copy safe to hand to readers.
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	out.SelectedAgents = slices.Clone(c.SelectedAgents)
	out.DisabledAgents = slices.Clone(c.DisabledAgents)
	out.ActiveAgents = slices.Clone(c.ActiveAgents)
	if c.Planning != nil {
		p := *c.Planning
		p.Questions = slices.Clone(c.Planning.Questions)
		p.Answers = slices.Clone(c.Planning.Answers)
		p.Objectives = slices.Clone(c.Planning.Objectives)
		out.Planning = &p
	}
	if c.Moderation != nil {
		m := *c.Moderation
		m.Objectives = slices.Clone(c.Moderation.Objectives)
		m.ParticipantTally = make(map[string]int, len(c.Moderation.ParticipantTally))
		for k, v := range c.Moderation.ParticipantTally {
			m.ParticipantTally[k] = v
		}
		out.Moderation = &m
	}
	out.Costs = c.Costs.clone()
	out.ImageCosts = c.ImageCosts.clone()
	return out
}

func (c CostTracking) clone() CostTracking {
	if c.PerAgent == nil {
		return c
	}
	per := make(map[string]AgentCost, len(c.PerAgent))
	for k, v := range c.PerAgent {
		per[k] = v
	}
	c.PerAgent = per
	return c
}
