package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 记录类型
const (
	KindDetail     = "detail"
	KindCompressed = "compressed"
)

// Entry 一条文档记录
type Entry struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"size:64;not null;index:idx_doc_conv_kind,priority:1" json:"conversation_id"`
	Kind           string    `gorm:"size:16;not null;index:idx_doc_conv_kind,priority:2" json:"kind"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName 表名
func (Entry) TableName() string {
	return "documentation_entries"
}

// SQLStore 基于 GORM 的文档存储，支持 sqlite/postgres/mysql
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLStore 创建 SQL 文档存储并迁移表结构
func NewSQLStore(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "documentation_store")),
	}, nil
}

// AppendDetail 追加详细记录
func (s *SQLStore) AppendDetail(ctx context.Context, conversationID, text string) error {
	return s.insert(ctx, conversationID, KindDetail, text)
}

// SaveCompressedContext 写入压缩上下文
func (s *SQLStore) SaveCompressedContext(ctx context.Context, conversationID, text string) error {
	return s.insert(ctx, conversationID, KindCompressed, text)
}

// FetchLatestDetail 返回最近一段详细记录
func (s *SQLStore) FetchLatestDetail(ctx context.Context, conversationID string) (string, error) {
	return s.latest(ctx, conversationID, KindDetail)
}

// FetchCompressedContext 返回最新的压缩上下文
func (s *SQLStore) FetchCompressedContext(ctx context.Context, conversationID string) (string, error) {
	return s.latest(ctx, conversationID, KindCompressed)
}

// Entries 按写入顺序列出某会话的记录，kind 为空时返回全部
func (s *SQLStore) Entries(ctx context.Context, conversationID, kind string) ([]Entry, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var entries []Entry
	if err := q.Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list documentation: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) insert(ctx context.Context, conversationID, kind, text string) error {
	if conversationID == "" {
		return ErrEmptyConversationID
	}
	entry := Entry{ConversationID: conversationID, Kind: kind, Content: text}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("insert %s documentation: %w", kind, err)
	}
	s.logger.Debug("documentation stored",
		zap.String("conversation_id", conversationID),
		zap.String("kind", kind),
		zap.Int("bytes", len(text)),
	)
	return nil
}

func (s *SQLStore) latest(ctx context.Context, conversationID, kind string) (string, error) {
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND kind = ?", conversationID, kind).
		Order("id DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s documentation: %w", kind, err)
	}
	return entry.Content, nil
}

var _ Store = (*SQLStore)(nil)
