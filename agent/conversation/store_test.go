package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/roundtable/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSnapshotter struct {
	mu    sync.Mutex
	saved []types.Conversation
	err   error
}

func (r *recordingSnapshotter) Save(_ context.Context, conv types.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, conv)
	return r.err
}

func (r *recordingSnapshotter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func newActiveConversation(t *testing.T, s *Store, limits types.Limits, agents ...string) types.Conversation {
	t.Helper()
	conv, err := s.Create(context.Background(), CreateParams{
		ChannelRef: "chan-" + t.Name(),
		Topic:      "Go generics",
		Agents:     agents,
		Limits:     limits,
	})
	require.NoError(t, err)
	conv, err = s.Transition(context.Background(), conv.ID, types.StatusActive, "")
	require.NoError(t, err)
	return conv
}

func TestStore_CreateAndGet(t *testing.T) {
	s := NewStore(zap.NewNop())
	ctx := context.Background()

	conv, err := s.Create(ctx, CreateParams{ChannelRef: "c1", Topic: "t", Agents: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPlanning, conv.Status)
	require.NotNil(t, conv.Planning)
	assert.NotEmpty(t, conv.ID)

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	byChan, err := s.GetByChannel("c1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, byChan.ID)

	_, err = s.Create(ctx, CreateParams{ChannelRef: "c1"})
	assert.ErrorIs(t, err, ErrChannelInUse)
}

func TestStore_NotFound(t *testing.T) {
	s := NewStore(nil)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, types.ErrConversationNotFound, types.GetErrorCode(err))

	err = s.Update(context.Background(), "missing", func(*Txn) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetByChannel("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetReturnsIsolatedCopy(t *testing.T) {
	s := NewStore(zap.NewNop())
	conv := newActiveConversation(t, s, types.Limits{}, "a")

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	got.SelectedAgents[0] = "mutated"

	again, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.SelectedAgents[0])
}

func TestStore_TransitionValidation(t *testing.T) {
	s := NewStore(zap.NewNop())
	ctx := context.Background()

	conv, err := s.Create(ctx, CreateParams{ChannelRef: "c"})
	require.NoError(t, err)

	_, err = s.Transition(ctx, conv.ID, types.StatusPaused, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	active, err := s.Transition(ctx, conv.ID, types.StatusActive, "")
	require.NoError(t, err)
	assert.Nil(t, active.Planning, "离开 planning 后清除规划状态")

	stopped, err := s.Transition(ctx, conv.ID, types.StatusStopped, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", stopped.StopReason)

	_, err = s.Transition(ctx, conv.ID, types.StatusActive, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "终态不接受迁移")

	// 终态会话释放频道
	_, err = s.Create(ctx, CreateParams{ChannelRef: "c"})
	assert.NoError(t, err)
}

func TestStore_UpdateRevertsIllegalDirectStatusChange(t *testing.T) {
	s := NewStore(zap.NewNop())
	ctx := context.Background()
	conv, err := s.Create(ctx, CreateParams{ChannelRef: "c"})
	require.NoError(t, err)

	err = s.Update(ctx, conv.ID, func(tx *Txn) error {
		tx.Status = types.StatusCompleted
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, _ := s.Get(conv.ID)
	assert.Equal(t, types.StatusPlanning, got.Status)

	boom := errors.New("boom")
	err = s.Update(ctx, conv.ID, func(tx *Txn) error {
		_ = tx.Transition(types.StatusStopped, "x")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ = s.Get(conv.ID)
	assert.Equal(t, types.StatusPlanning, got.Status, "回调失败时回退状态")
}

func TestStore_TransitionHooksAndSnapshots(t *testing.T) {
	snap := &recordingSnapshotter{err: errors.New("redis down")}
	s := NewStore(zap.NewNop(), WithSnapshotter(snap))

	var mu sync.Mutex
	var seen [][2]types.Status
	s.OnTransition(func(conv types.Conversation, from, to types.Status) {
		mu.Lock()
		seen = append(seen, [2]types.Status{from, to})
		mu.Unlock()
	})

	conv := newActiveConversation(t, s, types.Limits{}, "a")
	_, err := s.Transition(context.Background(), conv.ID, types.StatusPaused, "cost")
	require.NoError(t, err, "快照失败只记录日志")

	assert.Equal(t, [][2]types.Status{
		{types.StatusPlanning, types.StatusActive},
		{types.StatusActive, types.StatusPaused},
	}, seen)
	assert.Equal(t, 3, snap.count())
}

func TestStore_ConcurrentUpdatesAreLinearized(t *testing.T) {
	s := NewStore(zap.NewNop())
	conv := newActiveConversation(t, s, types.Limits{}, "a")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(context.Background(), conv.ID, func(tx *Txn) error {
				tx.Costs.Add("a", types.TokenUsage{}, 0.01)
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Costs.TotalCost, 1e-9)
	assert.Equal(t, 50, got.Costs.PerAgent["a"].Calls)
}

func TestStore_ListAndIDsByStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(zap.NewNop(), WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	a, _ := s.Create(ctx, CreateParams{ChannelRef: "a"})
	b, _ := s.Create(ctx, CreateParams{ChannelRef: "b"})
	_, err := s.Transition(ctx, b.ID, types.StatusActive, "")
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, []string{b.ID}, s.IDsByStatus(types.StatusActive))
	assert.Equal(t, []string{a.ID}, s.IDsByStatus(types.StatusPlanning))
}

func TestStore_Restore(t *testing.T) {
	s := NewStore(zap.NewNop())
	s.Restore(types.Conversation{ID: "x", ChannelRef: "chan", Status: types.StatusActive})

	got, err := s.GetByChannel("chan")
	require.NoError(t, err)
	assert.Equal(t, "x", got.ID)
	assert.NotNil(t, got.Messages)
}
