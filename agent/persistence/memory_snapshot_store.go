package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/types"
)

// MemorySnapshotStore is an in-memory implementation of SnapshotStore.
// It is suitable for development and testing environments.
// Note: Data will be lost on process restart.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]types.Conversation
	closed    bool
}

// NewMemorySnapshotStore creates a new in-memory snapshot store
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		snapshots: make(map[string]types.Conversation),
	}
}

// Close closes the store
func (s *MemorySnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemorySnapshotStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save stores a deep copy of the conversation
func (s *MemorySnapshotStore) Save(ctx context.Context, conv types.Conversation) error {
	if err := validate(conv); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.snapshots[conv.ID] = conv.Clone()
	return nil
}

// Load returns a deep copy of the stored snapshot
func (s *MemorySnapshotStore) Load(ctx context.Context, id string) (types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.Conversation{}, ErrStoreClosed
	}
	conv, ok := s.snapshots[id]
	if !ok {
		return types.Conversation{}, ErrNotFound
	}
	return conv.Clone(), nil
}

// LoadAll returns every snapshot ordered by creation time
func (s *MemorySnapshotStore) LoadAll(ctx context.Context) ([]types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]types.Conversation, 0, len(s.snapshots))
	for _, conv := range s.snapshots {
		out = append(out, conv.Clone())
	}
	sortByCreated(out)
	return out, nil
}

// Delete removes a snapshot
func (s *MemorySnapshotStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.snapshots, id)
	return nil
}

// Prune removes expired terminal snapshots
func (s *MemorySnapshotStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	removed := 0
	for id, conv := range s.snapshots {
		if expired(conv, cutoff) {
			delete(s.snapshots, id)
			removed++
		}
	}
	return removed, nil
}

func sortByCreated(convs []types.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})
}

// Ensure MemorySnapshotStore implements SnapshotStore
var _ SnapshotStore = (*MemorySnapshotStore)(nil)
