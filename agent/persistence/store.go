package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/roundtable/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// CleanupConfig defines how snapshots of finished conversations are expired
type CleanupConfig struct {
	// Enabled determines if automatic cleanup is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is how often cleanup runs (default: 1h)
	Interval time.Duration `json:"interval" yaml:"interval"`

	// TerminalRetention is how long to keep snapshots of stopped or
	// completed conversations after their last activity (default: 168h)
	TerminalRetention time.Duration `json:"terminal_retention" yaml:"terminal_retention"`
}

// DefaultCleanupConfig returns the default cleanup configuration
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:           true,
		Interval:          1 * time.Hour,
		TerminalRetention: 7 * 24 * time.Hour,
	}
}

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// Cleanup configuration
	Cleanup CleanupConfig `json:"cleanup" yaml:"cleanup"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Host is the Redis server host
	Host string `json:"host" yaml:"host"`

	// Port is the Redis server port
	Port int `json:"port" yaml:"port"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/snapshots",
		Redis: RedisStoreConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "roundtable:",
		},
		Cleanup: DefaultCleanupConfig(),
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// SnapshotStore persists full conversation snapshots keyed by conversation id.
// Save overwrites any previous snapshot of the same conversation.
type SnapshotStore interface {
	Store

	// Save stores the latest snapshot of a conversation
	Save(ctx context.Context, conv types.Conversation) error

	// Load returns the snapshot of one conversation or ErrNotFound
	Load(ctx context.Context, id string) (types.Conversation, error)

	// LoadAll returns every stored snapshot ordered by creation time
	LoadAll(ctx context.Context) ([]types.Conversation, error)

	// Delete removes a snapshot; deleting a missing id is not an error
	Delete(ctx context.Context, id string) error

	// Prune removes snapshots of terminal conversations whose last activity
	// is older than the cutoff and returns how many were removed
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

func validate(conv types.Conversation) error {
	if conv.ID == "" {
		return ErrInvalidInput
	}
	return nil
}

func expired(conv types.Conversation, cutoff time.Time) bool {
	return conv.Status.IsTerminal() && conv.LastActivityAt.Before(cutoff)
}
