package tokenizer

import (
	"strings"
	"sync"

	"github.com/BaSui01/roundtable/types"
)

// Counter 统一的 token 计数接口。
// 计数失败不会向上传播：实现必须退化为估算值。
type Counter interface {
	// Count 返回文本的 token 数
	Count(text string) int

	// Name 返回计数器名称
	Name() string
}

// 每条消息的固定开销（角色标记、分隔符）
const messageOverhead = 4

// CountMessages 返回一段对话历史的总 token 数
func CountMessages(c Counter, history []types.Message) int {
	total := 0
	for _, m := range history {
		total += c.Count(m.Content) + messageOverhead
	}
	return total
}

var (
	counters   = make(map[string]Counter)
	countersMu sync.RWMutex
)

// Register 为模型名称（或前缀）注册计数器
func Register(model string, c Counter) {
	countersMu.Lock()
	defer countersMu.Unlock()
	counters[model] = c
}

// ForModel 返回模型对应的计数器，支持前缀匹配；未注册时返回估算器
func ForModel(model string) Counter {
	countersMu.RLock()
	defer countersMu.RUnlock()

	if c, ok := counters[model]; ok {
		return c
	}
	best := ""
	for prefix := range counters {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return counters[best]
	}
	return NewEstimator()
}
