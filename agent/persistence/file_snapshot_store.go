package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/types"
)

// FileSnapshotStore is a file-based implementation of SnapshotStore.
// Each conversation is written to its own JSON file so a single save never
// rewrites unrelated conversations.
// It is suitable for single-node production deployments.
type FileSnapshotStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileSnapshotStore creates a new file-based snapshot store
func NewFileSnapshotStore(config StoreConfig) (*FileSnapshotStore, error) {
	baseDir := filepath.Join(config.BaseDir, "conversations")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileSnapshotStore{baseDir: baseDir}, nil
}

func (s *FileSnapshotStore) path(id string) (string, error) {
	// id 来自外部输入，拒绝路径分隔符
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", ErrInvalidInput
	}
	return filepath.Join(s.baseDir, id+".json"), nil
}

// Close closes the store
func (s *FileSnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *FileSnapshotStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

// Save writes the snapshot atomically (temp file then rename)
func (s *FileSnapshotStore) Save(ctx context.Context, conv types.Conversation) error {
	if err := validate(conv); err != nil {
		return err
	}
	path, err := s.path(conv.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads one snapshot from disk
func (s *FileSnapshotStore) Load(ctx context.Context, id string) (types.Conversation, error) {
	path, err := s.path(id)
	if err != nil {
		return types.Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.Conversation{}, ErrStoreClosed
	}
	return readSnapshot(path)
}

// LoadAll reads every snapshot file in the directory
func (s *FileSnapshotStore) LoadAll(ctx context.Context) ([]types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	paths, err := filepath.Glob(filepath.Join(s.baseDir, "*.json"))
	if err != nil {
		return nil, err
	}
	out := make([]types.Conversation, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conv, err := readSnapshot(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, conv)
	}
	sortByCreated(out)
	return out, nil
}

// Delete removes a snapshot file
func (s *FileSnapshotStore) Delete(ctx context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Prune removes expired terminal snapshots
func (s *FileSnapshotStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	convs, err := s.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, conv := range convs {
		if !expired(conv, cutoff) {
			continue
		}
		if err := s.Delete(ctx, conv.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func readSnapshot(path string) (types.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Conversation{}, ErrNotFound
		}
		return types.Conversation{}, fmt.Errorf("failed to read file: %w", err)
	}
	var conv types.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return types.Conversation{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return conv, nil
}

// Ensure FileSnapshotStore implements SnapshotStore
var _ SnapshotStore = (*FileSnapshotStore)(nil)
