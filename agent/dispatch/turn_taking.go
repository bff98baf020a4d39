package dispatch

import (
	"sync"
	"time"

	"github.com/BaSui01/roundtable/types"
)

// ShouldRespond 判断一条已接受的消息是否触发 Agent 回复。
// 人类与系统消息总是触发；Agent 消息仅当最近 maxResponses 条非系统消息中
// Agent 消息数仍小于 maxResponses 时触发，以限制 Agent 之间的连锁回复。
// 主持人等系统消息不打断连锁计数。
func ShouldRespond(msg types.Message, conv *types.Conversation, maxResponses int) bool {
	if !msg.IsAgent() {
		return true
	}
	if maxResponses <= 0 {
		return false
	}
	seen, agentCount := 0, 0
	for i := len(conv.Messages) - 1; i >= 0 && seen < maxResponses; i-- {
		m := conv.Messages[i]
		if m.AuthorKind == types.AuthorSystem {
			continue
		}
		seen++
		if m.IsAgent() {
			agentCount++
		}
	}
	return agentCount < maxResponses
}

// =============================================================================
// 🪟 回复批处理窗口
// =============================================================================

type windowEntry struct {
	messageID  string
	receivedAt time.Time
}

// BatchWindow 按会话记录最近一段时间内收到的消息，
// 作为下一条回复的 replyToIDs 来源。
type BatchWindow struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string][]windowEntry
}

// NewBatchWindow 创建批处理窗口；window <= 0 时只保留最后一条
func NewBatchWindow(window time.Duration, now func() time.Time) *BatchWindow {
	if now == nil {
		now = time.Now
	}
	return &BatchWindow{
		window:  window,
		now:     now,
		entries: make(map[string][]windowEntry),
	}
}

// Observe 记录一条收到的消息
func (b *BatchWindow) Observe(conversationID, messageID string, receivedAt time.Time) {
	if messageID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.entries[conversationID], windowEntry{messageID: messageID, receivedAt: receivedAt})
	b.entries[conversationID] = b.prune(list)
}

// ReplyTargets 返回窗口内最多 types.MaxReplyTargets 个最近的消息 id，按接收顺序
func (b *BatchWindow) ReplyTargets(conversationID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.prune(b.entries[conversationID])
	if len(list) == 0 {
		delete(b.entries, conversationID)
		return nil
	}
	b.entries[conversationID] = list

	if len(list) > types.MaxReplyTargets {
		list = list[len(list)-types.MaxReplyTargets:]
	}
	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.messageID
	}
	return ids
}

// Forget 丢弃会话的窗口（会话结束时调用）
func (b *BatchWindow) Forget(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, conversationID)
}

func (b *BatchWindow) prune(list []windowEntry) []windowEntry {
	if len(list) == 0 {
		return list
	}
	if b.window <= 0 {
		return list[len(list)-1:]
	}
	cutoff := b.now().Add(-b.window)
	i := 0
	for i < len(list) && list[i].receivedAt.Before(cutoff) {
		i++
	}
	if i == 0 {
		return list
	}
	// 复制以释放前缀占用的底层数组
	return append([]windowEntry(nil), list[i:]...)
}
