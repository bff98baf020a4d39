package docstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// 错误定义
var (
	ErrEmptyConversationID = errors.New("conversation id is required")
)

// Store 外部文档存储。读取方法在没有记录时返回空字符串而非错误。
type Store interface {
	// AppendDetail 追加一段详细记录
	AppendDetail(ctx context.Context, conversationID, text string) error
	// FetchLatestDetail 返回最近一段详细记录
	FetchLatestDetail(ctx context.Context, conversationID string) (string, error)
	// FetchCompressedContext 返回最新的压缩上下文
	FetchCompressedContext(ctx context.Context, conversationID string) (string, error)
	// SaveCompressedContext 写入新的压缩上下文，覆盖旧值的读取结果
	SaveCompressedContext(ctx context.Context, conversationID, text string) error
}

// LatestDetail 读取最近的详细记录，失败时记录日志并返回空字符串
func LatestDetail(ctx context.Context, store Store, conversationID string, logger *zap.Logger) string {
	text, err := store.FetchLatestDetail(ctx, conversationID)
	if err != nil {
		if logger != nil {
			logger.Warn("fetch latest documentation failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
		return ""
	}
	return text
}

// MemoryStore 内存文档存储，用于测试与演示
type MemoryStore struct {
	mu         sync.RWMutex
	details    map[string][]string
	compressed map[string]string
}

// NewMemoryStore 创建内存文档存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		details:    make(map[string][]string),
		compressed: make(map[string]string),
	}
}

// AppendDetail 追加详细记录
func (s *MemoryStore) AppendDetail(ctx context.Context, conversationID, text string) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[conversationID] = append(s.details[conversationID], text)
	return nil
}

// FetchLatestDetail 返回最近一段详细记录
func (s *MemoryStore) FetchLatestDetail(ctx context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.details[conversationID]
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1], nil
}

// FetchCompressedContext 返回压缩上下文
func (s *MemoryStore) FetchCompressedContext(ctx context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compressed[conversationID], nil
}

// SaveCompressedContext 写入压缩上下文
func (s *MemoryStore) SaveCompressedContext(ctx context.Context, conversationID, text string) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressed[conversationID] = text
	return nil
}

// Details 返回某会话的全部详细记录
func (s *MemoryStore) Details(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.details[conversationID]...)
}

// Transcript 拼接全部详细记录
func (s *MemoryStore) Transcript(conversationID string) string {
	return strings.Join(s.Details(conversationID), "\n")
}

var _ Store = (*MemoryStore)(nil)
