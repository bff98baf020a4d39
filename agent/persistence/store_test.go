package persistence

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/BaSui01/roundtable/agent/conversation"
	"github.com/BaSui01/roundtable/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleConversation(id string, status types.Status, created time.Time) types.Conversation {
	return types.Conversation{
		ID:             id,
		ChannelRef:     "chan-" + id,
		Topic:          "caching",
		Status:         status,
		SelectedAgents: []string{"claude"},
		Messages:       []types.Message{{ID: id + "-m1", ConversationID: id, AuthorID: "alice", Content: "hi"}},
		MessageCount:   1,
		CreatedAt:      created,
		LastActivityAt: created,
	}
}

func setupRedisStore(t *testing.T, cfg StoreConfig) (*miniredis.Miniredis, *RedisSnapshotStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisSnapshotStoreWithClient(client, cfg)
}

func backends(t *testing.T) map[string]SnapshotStore {
	t.Helper()
	cfg := DefaultStoreConfig()
	cfg.BaseDir = t.TempDir()
	file, err := NewFileSnapshotStore(cfg)
	require.NoError(t, err)
	_, rs := setupRedisStore(t, cfg)
	return map[string]SnapshotStore{
		"memory": NewMemorySnapshotStore(),
		"file":   file,
		"redis":  rs,
	}
}

func TestSnapshotStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Ping(ctx))

			_, err := store.Load(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Save(ctx, types.Conversation{}), ErrInvalidInput)

			b := sampleConversation("b", types.StatusActive, t0.Add(time.Minute))
			a := sampleConversation("a", types.StatusPlanning, t0)
			require.NoError(t, store.Save(ctx, b))
			require.NoError(t, store.Save(ctx, a))

			got, err := store.Load(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, "caching", got.Topic)
			require.Len(t, got.Messages, 1)
			assert.Equal(t, "hi", got.Messages[0].Content)

			// 覆盖写
			b.Messages = append(b.Messages, types.Message{ID: "b-m2", Content: "second"})
			b.MessageCount = 2
			require.NoError(t, store.Save(ctx, b))

			all, err := store.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "a", all[0].ID)
			assert.Equal(t, "b", all[1].ID)
			assert.Equal(t, 2, all[1].MessageCount)

			require.NoError(t, store.Delete(ctx, "a"))
			require.NoError(t, store.Delete(ctx, "a"))
			all, err = store.LoadAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)

			require.NoError(t, store.Close())
		})
	}
}

func TestSnapshotStore_Prune(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			old := sampleConversation("old", types.StatusStopped, t0)
			recent := sampleConversation("recent", types.StatusCompleted, t0.Add(48*time.Hour))
			live := sampleConversation("live", types.StatusActive, t0)
			for _, c := range []types.Conversation{old, recent, live} {
				require.NoError(t, store.Save(ctx, c))
			}

			n, err := store.Prune(ctx, t0.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = store.Load(ctx, "old")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.Load(ctx, "live")
			assert.NoError(t, err)
		})
	}
}

func TestMemorySnapshotStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()
	conv := sampleConversation("a", types.StatusActive, t0)
	require.NoError(t, store.Save(ctx, conv))

	conv.Messages[0].Content = "mutated"
	got, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Messages[0].Content)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
	assert.ErrorIs(t, store.Save(ctx, conv), ErrStoreClosed)
}

func TestFileSnapshotStore_RejectsPathIDs(t *testing.T) {
	cfg := DefaultStoreConfig()
	cfg.BaseDir = t.TempDir()
	store, err := NewFileSnapshotStore(cfg)
	require.NoError(t, err)

	conv := sampleConversation("../escape", types.StatusActive, t0)
	assert.ErrorIs(t, store.Save(context.Background(), conv), ErrInvalidInput)
	_, err = store.Load(context.Background(), "a/b")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRedisSnapshotStore_KeysAndTerminalTTL(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultStoreConfig()
	cfg.Cleanup.TerminalRetention = time.Hour
	mr, store := setupRedisStore(t, cfg)

	require.NoError(t, store.Save(ctx, sampleConversation("live", types.StatusActive, t0)))
	require.NoError(t, store.Save(ctx, sampleConversation("done", types.StatusCompleted, t0)))

	assert.True(t, mr.Exists("roundtable:conv:live"))
	members, err := mr.SMembers("roundtable:conv:index")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"live", "done"}, members)
	assert.Zero(t, mr.TTL("roundtable:conv:live"))
	assert.Equal(t, time.Hour, mr.TTL("roundtable:conv:done"))

	mr.FastForward(2 * time.Hour)
	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "live", all[0].ID)

	members, err = mr.SMembers("roundtable:conv:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, members)
}

func TestNewSnapshotStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := DefaultStoreConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port

	for _, typ := range []StoreType{StoreTypeMemory, StoreTypeFile, StoreTypeRedis} {
		cfg.Type = typ
		store, err := NewSnapshotStore(cfg)
		require.NoError(t, err, typ)
		assert.NoError(t, store.Ping(context.Background()), typ)
		store.Close()
	}

	cfg.Type = "etcd"
	_, err = NewSnapshotStore(cfg)
	assert.Error(t, err)
	assert.Panics(t, func() { MustNewSnapshotStore(cfg) })

	cfg.Type = StoreTypeRedis
	cfg.Redis.Port = 1
	_, err = NewSnapshotStore(cfg)
	assert.Error(t, err)
}

func TestRehydrate_RestoresConversationStore(t *testing.T) {
	ctx := context.Background()
	snapshots := NewMemorySnapshotStore()

	first := conversation.NewStore(zap.NewNop(), conversation.WithSnapshotter(snapshots))
	manager := conversation.NewContextManager(first, zap.NewNop())
	conv, err := first.Create(ctx, conversation.CreateParams{ChannelRef: "general", Topic: "caching", Agents: []string{"claude"}})
	require.NoError(t, err)
	_, err = manager.Append(ctx, conv.ID, types.NewHumanMessage(conv.ID, "alice", "what about TTLs?"))
	require.NoError(t, err)

	second := conversation.NewStore(zap.NewNop())
	n, err := Rehydrate(ctx, snapshots, second, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := second.GetByChannel("general")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "what about TTLs?", got.Messages[0].Content)
}

func TestStartCleanup_Disabled(t *testing.T) {
	// 未启用时不启动 goroutine，也不会访问存储
	StartCleanup(context.Background(), nil, CleanupConfig{}, nil, nil)
}
