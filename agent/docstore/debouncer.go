package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/internal/metrics"
	"go.uber.org/zap"
)

// Action 被防抖的副作用
type Action func(ctx context.Context, conversationID string) error

// 触发方式，用作指标标签
const (
	TriggerDebounced = "debounced"
	TriggerImmediate = "immediate"
)

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Debouncer 按会话合并突发通知：每次 Notify 取消旧定时器并重新计时，
// 只有一串通知中的最后一次会真正触发 Action。
// Action 的错误只记录日志，不向调用方传播。
type Debouncer struct {
	interval time.Duration
	action   Action
	timeout  time.Duration
	metrics  *metrics.Collector
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[string]*pending
	gen     uint64
	stopped bool
	wg      sync.WaitGroup
}

// DebouncerOption 配置 Debouncer
type DebouncerOption func(*Debouncer)

// WithMetrics 记录每次触发的结果
func WithMetrics(c *metrics.Collector) DebouncerOption {
	return func(d *Debouncer) { d.metrics = c }
}

// WithActionTimeout 限制单次 Action 的执行时长
func WithActionTimeout(timeout time.Duration) DebouncerOption {
	return func(d *Debouncer) { d.timeout = timeout }
}

// NewDebouncer 创建防抖器
func NewDebouncer(interval time.Duration, action Action, logger *zap.Logger, opts ...DebouncerOption) *Debouncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Debouncer{
		interval: interval,
		action:   action,
		logger:   logger.With(zap.String("component", "debouncer")),
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify 为会话重新安排一次延迟触发
func (d *Debouncer) Notify(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if p, ok := d.timers[conversationID]; ok {
		p.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timers[conversationID] = &pending{
		gen:   gen,
		timer: time.AfterFunc(d.interval, func() { d.fire(conversationID, gen) }),
	}
}

// Immediate 取消待触发的定时器并同步执行 Action
func (d *Debouncer) Immediate(ctx context.Context, conversationID string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if p, ok := d.timers[conversationID]; ok {
		p.timer.Stop()
		delete(d.timers, conversationID)
	}
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	d.run(ctx, conversationID, TriggerImmediate)
}

// Pending 会话是否有待触发的定时器
func (d *Debouncer) Pending(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[conversationID]
	return ok
}

// Cancel 丢弃会话的待触发定时器
func (d *Debouncer) Cancel(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.timers[conversationID]; ok {
		p.timer.Stop()
		delete(d.timers, conversationID)
	}
}

// Stop 取消全部定时器并等待正在执行的 Action 结束
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for id, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Debouncer) fire(conversationID string, gen uint64) {
	d.mu.Lock()
	p, ok := d.timers[conversationID]
	if d.stopped || !ok || p.gen != gen {
		// 已被更新的通知取代
		d.mu.Unlock()
		return
	}
	delete(d.timers, conversationID)
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	d.run(d.ctx, conversationID, TriggerDebounced)
}

func (d *Debouncer) run(ctx context.Context, conversationID, trigger string) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("debounced action panicked",
				zap.String("conversation_id", conversationID),
				zap.Any("panic", r),
			)
		}
	}()

	err := d.action(ctx, conversationID)
	d.metrics.RecordDocFlush(trigger, err)
	if err != nil {
		d.logger.Warn("debounced action failed",
			zap.String("conversation_id", conversationID),
			zap.String("trigger", trigger),
			zap.Error(err),
		)
	}
}
