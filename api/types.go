package api

import (
	"time"

	"github.com/BaSui01/roundtable/types"
)

// =============================================================================
// 入站事件类型
// =============================================================================

// EventRequest 代表聊天平台转发的一条入站消息。
// @Description 入站消息请求结构
type EventRequest struct {
	// 平台侧事件 id，用于重投去重；为空时不去重
	EventID string `json:"event_id,omitempty" example:"Ev024BE91L"`
	// 频道引用，一个频道同时只有一个会话
	ChannelRef string `json:"channel_ref" example:"slack:C024BE91L" binding:"required"`
	// 作者 id
	AuthorID string `json:"author_id" example:"U123"`
	// 作者类型（human、agent、system），默认 human
	AuthorKind string `json:"author_kind,omitempty" example:"human"`
	// 消息正文
	Text string `json:"text" example:"Which cache eviction policy should we use?" binding:"required"`
	// 新会话的主题，默认取正文
	Topic string `json:"topic,omitempty"`
	// 新会话的参与 Agent，默认取配置
	Agents []string `json:"agents,omitempty"`
}

// EventResponse 代表一条入站消息的处理结果。
// @Description 入站消息处理结果
type EventResponse struct {
	// 重复投递的事件不再处理
	Duplicate bool `json:"duplicate"`
	// 事件 id
	EventID string `json:"event_id,omitempty"`
	// 会话 id
	ConversationID string `json:"conversation_id,omitempty"`
	// 处理后的会话状态
	Status types.Status `json:"status,omitempty"`
	// 是否新建了会话
	Created bool `json:"created"`
	// 会话不在 planning/active 时消息只记录不处理
	Ignored bool `json:"ignored"`
	// 追加后的入站消息
	Message *types.Message `json:"message,omitempty"`
	// 本次处理产生并投递的消息（规划提问、主持提示、Agent 回复）
	Replies []types.Message `json:"replies,omitempty"`
	// 本次处理中失败的 Agent
	FailedAgents []string `json:"failed_agents,omitempty"`
	// 本次处理是否因费用超限而暂停
	Paused bool `json:"paused"`
}

// =============================================================================
// 控制信号类型
// =============================================================================

// StopRequest 停止请求；AgentID 为空或 "all" 时停止整个会话
type StopRequest struct {
	AgentID string `json:"agent_id,omitempty" example:"gpt"`
}

// CompleteRequest 结束请求
type CompleteRequest struct {
	Summary string `json:"summary,omitempty" example:"LRU with a TTL"`
}

// PlanRequest 编辑计划请求
type PlanRequest struct {
	Text string `json:"text" binding:"required"`
}

// =============================================================================
// 查询类型
// =============================================================================

// ConversationSummary 会话列表项
type ConversationSummary struct {
	ID             string       `json:"id"`
	ChannelRef     string       `json:"channel_ref"`
	Topic          string       `json:"topic"`
	Status         types.Status `json:"status"`
	StopReason     string       `json:"stop_reason,omitempty"`
	MessageCount   int          `json:"message_count"`
	TotalCost      float64      `json:"total_cost"`
	ActiveAgents   []string     `json:"active_agents,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

// ConversationList 会话列表
type ConversationList struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}

// DocumentationResponse 会话的外部文档
type DocumentationResponse struct {
	ConversationID    string `json:"conversation_id"`
	LatestDetail      string `json:"latest_detail"`
	CompressedContext string `json:"compressed_context"`
}

// Summarize 把会话快照转换为列表项
func Summarize(c types.Conversation) ConversationSummary {
	return ConversationSummary{
		ID:             c.ID,
		ChannelRef:     c.ChannelRef,
		Topic:          c.Topic,
		Status:         c.Status,
		StopReason:     c.StopReason,
		MessageCount:   c.TotalMessages(),
		TotalCost:      c.Costs.TotalCost,
		ActiveAgents:   c.ActiveAgents,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
	}
}
