package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tiktoken 基于 tiktoken 的精确计数器，编码不可用时退化为估算器
type Tiktoken struct {
	encoding string
	fallback Estimator

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// 模型前缀到 tiktoken 编码的映射
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4.1":       "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// NewTiktoken 为模型创建 tiktoken 计数器，未知模型使用 cl100k_base
func NewTiktoken(model string) *Tiktoken {
	encoding := "cl100k_base"
	best := ""
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, encoding = prefix, enc
		}
	}
	return &Tiktoken{encoding: encoding}
}

// init 惰性加载编码（首次使用时可能需要下载 BPE 数据）
func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count 实现 Counter
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return t.fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Name 实现 Counter
func (t *Tiktoken) Name() string {
	if t.init() != nil {
		return "estimator"
	}
	return "tiktoken[" + t.encoding + "]"
}

// RegisterOpenAI 为已知的 OpenAI 模型前缀注册 tiktoken 计数器
func RegisterOpenAI() {
	for prefix := range modelEncodings {
		Register(prefix, NewTiktoken(prefix))
	}
}
