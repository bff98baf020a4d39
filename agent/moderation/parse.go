package moderation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/BaSui01/roundtable/types"
)

// Plan 规划阶段产出的会话计划
type Plan struct {
	ExpandedTopic string       `json:"expanded_topic"`
	Text          string       `json:"plan"`
	Objectives    []string     `json:"objectives,omitempty"`
	Parameters    types.Limits `json:"parameters"`
	Fallback      bool         `json:"fallback,omitempty"`
}

// DriftAssessment 话题偏离检测结果
type DriftAssessment struct {
	OnTopic    bool    `json:"on_topic"`
	DriftScore float64 `json:"drift_score"`
	Suggestion string  `json:"suggestion,omitempty"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// planResponse 是规划 Agent 返回的 JSON 结构；时长以分钟表示
type planResponse struct {
	ExpandedTopic string   `json:"expanded_topic"`
	Plan          string   `json:"plan"`
	Objectives    []string `json:"objectives"`
	Parameters    struct {
		MaxMessages          int     `json:"max_messages"`
		CostLimit            float64 `json:"cost_limit"`
		TimeoutMinutes       float64 `json:"timeout_minutes"`
		CompressionThreshold int     `json:"compression_threshold"`
	} `json:"parameters"`
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// ParseQuestions 解析澄清问题的 JSON 数组；解析失败返回空
func ParseQuestions(text string, limit int) []string {
	raw := extractJSONArray(text)
	if raw == "" {
		return nil
	}
	var questions []string
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil
	}
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ParsePlan 解析计划；失败时返回以原话题和默认参数构成的计划
func ParsePlan(text, topic string, defaults types.Limits) Plan {
	fallback := DefaultPlan(topic, defaults)

	raw := extractJSON(text)
	if raw == "" {
		return fallback
	}
	var resp planResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return fallback
	}
	if strings.TrimSpace(resp.Plan) == "" && strings.TrimSpace(resp.ExpandedTopic) == "" {
		return fallback
	}

	plan := Plan{
		ExpandedTopic: strings.TrimSpace(resp.ExpandedTopic),
		Text:          strings.TrimSpace(resp.Plan),
		Objectives:    resp.Objectives,
		Parameters:    defaults,
	}
	if plan.ExpandedTopic == "" {
		plan.ExpandedTopic = topic
	}
	if plan.Text == "" {
		plan.Text = fallback.Text
	}
	p := resp.Parameters
	if p.MaxMessages > 0 {
		plan.Parameters.MaxMessages = p.MaxMessages
	}
	if p.CostLimit > 0 {
		plan.Parameters.CostLimit = p.CostLimit
	}
	if p.TimeoutMinutes > 0 {
		plan.Parameters.Timeout = time.Duration(p.TimeoutMinutes * float64(time.Minute))
	}
	if p.CompressionThreshold > 0 {
		plan.Parameters.CompressionThreshold = p.CompressionThreshold
	}
	return plan
}

// DefaultPlan 解析失败时使用的计划
func DefaultPlan(topic string, defaults types.Limits) Plan {
	return Plan{
		ExpandedTopic: topic,
		Text:          "Open discussion on: " + topic,
		Objectives:    []string{topic},
		Parameters:    defaults,
		Fallback:      true,
	}
}

// ParseDrift 解析偏离检测结果；失败时视为未偏离
func ParseDrift(text string) DriftAssessment {
	onTopic := DriftAssessment{OnTopic: true, Fallback: true}

	raw := extractJSON(text)
	if raw == "" {
		return onTopic
	}
	var resp struct {
		OnTopic    *bool    `json:"on_topic"`
		DriftScore *float64 `json:"drift_score"`
		Suggestion string   `json:"suggestion"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil || resp.DriftScore == nil {
		return onTopic
	}

	a := DriftAssessment{
		DriftScore: clamp(*resp.DriftScore, 0, 1),
		Suggestion: strings.TrimSpace(resp.Suggestion),
	}
	if resp.OnTopic != nil {
		a.OnTopic = *resp.OnTopic
	} else {
		a.OnTopic = a.DriftScore < 0.5
	}
	return a
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
