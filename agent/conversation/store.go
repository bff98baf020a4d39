package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrNotFound          = types.NewError(types.ErrConversationNotFound, "conversation not found")
	ErrInvalidTransition = types.NewError(types.ErrInvalidTransition, "invalid state transition")
	ErrChannelInUse      = types.NewError(types.ErrInvalidRequest, "channel already has a live conversation")
)

// Snapshotter 接收每次成功更新后的会话快照
type Snapshotter interface {
	Save(ctx context.Context, conv types.Conversation) error
}

// TransitionHook 在状态迁移提交后调用（锁外）
type TransitionHook func(conv types.Conversation, from, to types.Status)

// CreateParams 创建会话的参数
type CreateParams struct {
	ChannelRef string
	Topic      string
	Agents     []string
	Limits     types.Limits
}

// Txn 是 Update 回调内对单个会话的可写视图。
// 直接修改 Status 也会被校验，但推荐使用 Transition 以记录原因。
type Txn struct {
	*types.Conversation
	from types.Status
}

// Transition 在事务内迁移状态
func (t *Txn) Transition(to types.Status, reason string) error {
	if !types.CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	if reason != "" {
		t.StopReason = reason
	}
	return nil
}

type entry struct {
	mu   sync.Mutex
	conv *types.Conversation
}

// Store 会话聚合根的内存存储。
// 同一会话的所有写操作在该会话的锁下串行执行；不同会话互不阻塞。
type Store struct {
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	entries   map[string]*entry
	byChannel map[string]string

	snapshotter Snapshotter
	hooksMu     sync.RWMutex
	hooks       []TransitionHook
}

// StoreOption 配置 Store
type StoreOption func(*Store)

// WithSnapshotter 每次更新后写穿快照
func WithSnapshotter(s Snapshotter) StoreOption {
	return func(st *Store) { st.snapshotter = s }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) StoreOption {
	return func(st *Store) { st.now = now }
}

// NewStore 创建会话存储
func NewStore(logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		logger:    logger.With(zap.String("component", "conversation_store")),
		now:       time.Now,
		entries:   make(map[string]*entry),
		byChannel: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnTransition 注册状态迁移钩子
func (s *Store) OnTransition(h TransitionHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Now 返回存储使用的时钟时间
func (s *Store) Now() time.Time {
	return s.now()
}

// Create 为频道创建 planning 状态的新会话。
// 频道已有未结束的会话时返回 ErrChannelInUse。
func (s *Store) Create(ctx context.Context, p CreateParams) (types.Conversation, error) {
	now := s.now()
	conv := &types.Conversation{
		ID:             uuid.NewString(),
		ChannelRef:     p.ChannelRef,
		Topic:          p.Topic,
		Status:         types.StatusPlanning,
		Messages:       make([]types.Message, 0, 16),
		SelectedAgents: append([]string(nil), p.Agents...),
		Planning: &types.PlanningState{
			Parameters: p.Limits,
			StartedAt:  now,
		},
		Limits:         p.Limits,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	s.mu.Lock()
	if id, ok := s.byChannel[p.ChannelRef]; ok && p.ChannelRef != "" {
		if e := s.entries[id]; e != nil && !e.status().IsTerminal() {
			s.mu.Unlock()
			return types.Conversation{}, fmt.Errorf("%w: %s", ErrChannelInUse, p.ChannelRef)
		}
	}
	e := &entry{conv: conv}
	s.entries[conv.ID] = e
	if p.ChannelRef != "" {
		s.byChannel[p.ChannelRef] = conv.ID
	}
	s.mu.Unlock()

	e.mu.Lock()
	snap := conv.Clone()
	s.snapshot(ctx, snap)
	e.mu.Unlock()

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("channel_ref", p.ChannelRef),
		zap.Strings("agents", p.Agents),
	)
	return snap, nil
}

// Restore 写入一个已有会话（例如从快照恢复），覆盖同 id 的内存状态
func (s *Store) Restore(conv types.Conversation) {
	c := conv.Clone()
	if c.Messages == nil {
		c.Messages = make([]types.Message, 0, 16)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[c.ID] = &entry{conv: &c}
	if c.ChannelRef != "" && !c.Status.IsTerminal() {
		s.byChannel[c.ChannelRef] = c.ID
	}
}

func (e *entry) status() types.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Status
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Get 返回会话的深拷贝
func (s *Store) Get(id string) (types.Conversation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return types.Conversation{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone(), nil
}

// GetByChannel 按频道查找最近的会话
func (s *Store) GetByChannel(channelRef string) (types.Conversation, error) {
	s.mu.RLock()
	id, ok := s.byChannel[channelRef]
	s.mu.RUnlock()
	if !ok {
		return types.Conversation{}, fmt.Errorf("%w: channel %s", ErrNotFound, channelRef)
	}
	return s.Get(id)
}

// View 在会话锁下只读访问，不拷贝；fn 不得保留或修改 c
func (s *Store) View(id string, fn func(c *types.Conversation)) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.conv)
	return nil
}

// Update 在会话锁下执行 fn。
// fn 返回错误时已做的状态修改会被回退（其他字段由 fn 自行保证一致）。
// 未迁移状态且未配置快照时不做任何拷贝，追加消息保持 O(1)。
func (s *Store) Update(ctx context.Context, id string, fn func(tx *Txn) error) error {
	_, err := s.update(ctx, id, fn, false)
	return err
}

// UpdateAndGet 与 Update 相同，但返回更新后的快照
func (s *Store) UpdateAndGet(ctx context.Context, id string, fn func(tx *Txn) error) (types.Conversation, error) {
	return s.update(ctx, id, fn, true)
}

func (s *Store) update(ctx context.Context, id string, fn func(tx *Txn) error, wantSnap bool) (types.Conversation, error) {
	e, err := s.lookup(id)
	if err != nil {
		return types.Conversation{}, err
	}

	e.mu.Lock()
	tx := &Txn{Conversation: e.conv, from: e.conv.Status}
	if err := fn(tx); err != nil {
		e.conv.Status = tx.from
		e.mu.Unlock()
		return types.Conversation{}, err
	}
	to := e.conv.Status
	changed := to != tx.from
	if changed && !types.CanTransition(tx.from, to) {
		e.conv.Status = tx.from
		e.mu.Unlock()
		return types.Conversation{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.from, to)
	}
	if changed && to != types.StatusPlanning {
		// planning 状态只在 planning 阶段存在
		e.conv.Planning = nil
	}

	var snap types.Conversation
	if wantSnap || changed || s.snapshotter != nil {
		snap = e.conv.Clone()
		s.snapshot(ctx, snap)
	}
	e.mu.Unlock()

	if changed {
		s.logger.Info("conversation state changed",
			zap.String("conversation_id", id),
			zap.String("from", string(tx.from)),
			zap.String("to", string(to)),
			zap.String("reason", snap.StopReason),
		)
		s.fireHooks(snap, tx.from, to)
	}
	return snap, nil
}

// Transition 迁移会话状态并返回迁移后的快照
func (s *Store) Transition(ctx context.Context, id string, to types.Status, reason string) (types.Conversation, error) {
	return s.update(ctx, id, func(tx *Txn) error {
		return tx.Transition(to, reason)
	}, true)
}

// List 返回所有会话的快照，按创建时间排序
func (s *Store) List() []types.Conversation {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]types.Conversation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.conv.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// IDsByStatus 返回处于给定状态的会话 id
func (s *Store) IDsByStatus(status types.Status) []string {
	s.mu.RLock()
	entries := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		entries[id] = e
	}
	s.mu.RUnlock()

	var ids []string
	for id, e := range entries {
		if e.status() == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) snapshot(ctx context.Context, conv types.Conversation) {
	if s.snapshotter == nil {
		return
	}
	if err := s.snapshotter.Save(ctx, conv); err != nil {
		s.logger.Warn("snapshot save failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
}

func (s *Store) fireHooks(conv types.Conversation, from, to types.Status) {
	s.hooksMu.RLock()
	hooks := append([]TransitionHook(nil), s.hooks...)
	s.hooksMu.RUnlock()
	for _, h := range hooks {
		h(conv, from, to)
	}
}
