package moderation

import (
	"fmt"
	"strings"

	"github.com/BaSui01/roundtable/types"
)

const questionsPrompt = `You are the planner of a multi-agent roundtable discussion.
Read the opening request and decide whether clarifying questions are needed before the discussion starts.
Respond with a JSON array of at most %d short questions, or [] if the request is already clear.`

const planPrompt = `You are the planner of a multi-agent roundtable discussion.
Produce a discussion plan as a JSON object:
{"expanded_topic": string, "plan": string, "objectives": [string],
 "parameters": {"max_messages": int, "cost_limit": number, "timeout_minutes": number, "compression_threshold": int}}
Omit parameters you have no opinion on.`

const driftPrompt = `You are the moderator of a multi-agent roundtable discussion.
Compare the recent messages with the objectives and current focus.
Respond with a JSON object: {"on_topic": bool, "drift_score": number between 0 and 1, "suggestion": string}.`

func planningHistory(conv *types.Conversation) []types.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", conv.Topic)
	if p := conv.Planning; p != nil {
		for i, q := range p.Questions {
			fmt.Fprintf(&b, "Q%d: %s\n", i+1, q)
		}
		for i, a := range p.Answers {
			fmt.Fprintf(&b, "A%d: %s\n", i+1, a)
		}
	}
	return []types.Message{{
		ConversationID: conv.ID,
		AuthorID:       "planner",
		AuthorKind:     types.AuthorHuman,
		Content:        b.String(),
	}}
}

func driftHistory(recent []types.Message, objectives []string, focus string) []types.Message {
	var b strings.Builder
	b.WriteString("Objectives:\n")
	for _, o := range objectives {
		fmt.Fprintf(&b, "- %s\n", o)
	}
	if focus != "" {
		fmt.Fprintf(&b, "Current focus: %s\n", focus)
	}
	b.WriteString("Recent messages:\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "[%s]: %s\n", m.AuthorID, m.Content)
	}
	return []types.Message{{AuthorID: "moderator", AuthorKind: types.AuthorHuman, Content: b.String()}}
}

// FormatQuestions 渲染要发给参与者的澄清问题
func FormatQuestions(questions []string) string {
	var b strings.Builder
	b.WriteString("Before we start, a few questions:\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	b.WriteString("Reply with your answers, or say \"approve\" to start right away.")
	return b.String()
}

// FormatPlan 渲染计划与生效参数
func FormatPlan(p Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposed plan for: %s\n\n%s\n", p.ExpandedTopic, p.Text)
	if len(p.Objectives) > 0 {
		b.WriteString("\nObjectives:\n")
		for _, o := range p.Objectives {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}
	l := p.Parameters
	fmt.Fprintf(&b, "\nLimits: %d messages, $%.2f, %s inactivity timeout\n", l.MaxMessages, l.CostLimit, l.Timeout)
	b.WriteString("Reply \"approve\" to start the discussion.")
	return b.String()
}
