package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int

	// Timeout 单次调用超时时间，0 表示不额外限制
	Timeout time.Duration

	// ResetTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	ResetTimeout time.Duration

	// OnStateChange 状态变更回调（异步触发）
	OnStateChange func(from State, to State)

	// Now 时钟，测试可注入
	Now func() time.Time
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold:    5,
		ResetTimeout: 60 * time.Second,
	}
}

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Call 执行调用，如果熔断器打开则返回错误
	Call(ctx context.Context, fn func(ctx context.Context) error) error

	// CallWithResult 执行调用并返回结果
	CallWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)

	// State 获取当前状态
	State() State

	// Reset 重置熔断器（手动恢复）
	Reset()
}

// breaker 熔断器实现
type breaker struct {
	target string
	config Config
	logger *zap.Logger

	mu              sync.RWMutex
	state           State
	generation      uint64    // 每次状态变更 +1，用于丢弃过期调用的结果
	failureCount    int       // 连续失败次数
	lastFailureTime time.Time // 最后失败时间
	probing         bool      // 半开状态下是否有在途探测
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(config *Config, logger *zap.Logger) CircuitBreaker {
	return newBreaker("", config, logger)
}

func newBreaker(target string, config *Config, logger *zap.Logger) *breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := *config
	// 参数校验
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if target != "" {
		logger = logger.With(zap.String("target", target))
	}

	return &breaker{
		target: target,
		config: cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Call 实现 CircuitBreaker.Call
func (b *breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.CallWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// CallWithResult 实现 CircuitBreaker.CallWithResult
// 核心逻辑：状态机转换 + 失败计数 + 超时控制
func (b *breaker) CallWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	gen, err := b.beforeCall()
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	result, err := fn(callCtx)

	b.afterCall(gen, classify(ctx, err))

	if err != nil {
		return nil, err
	}
	return result, nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeNeutral 既不清零失败计数，也不让半开探测关闭熔断
	outcomeNeutral
)

// classify 调用方主动取消与单次请求本身的问题（无效请求、上下文过长）为中性；
// 认证、权限、配额错误说明目标不可用，计为失败
func classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return outcomeNeutral
	}
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrContextTooLong:
		return outcomeNeutral
	}
	return outcomeFailure
}

// beforeCall 调用前检查，返回本次调用所属的状态代次
func (b *breaker) beforeCall() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return b.generation, nil

	case StateOpen:
		elapsed := b.config.Now().Sub(b.lastFailureTime)
		if elapsed >= b.config.ResetTimeout {
			b.setState(StateHalfOpen)
			b.probing = true
			b.logger.Info("熔断器进入半开状态")
			return b.generation, nil
		}

		// 仍在熔断中
		return 0, &OpenError{Target: b.target, RetryAfter: b.config.ResetTimeout - elapsed}

	case StateHalfOpen:
		// 半开状态只放行一个在途探测，其结果决定走向
		if b.probing {
			return 0, ErrTooManyProbes
		}
		b.probing = true
		return b.generation, nil

	default:
		return 0, fmt.Errorf("unknown breaker state: %v", b.state)
	}
}

// afterCall 调用后处理；状态已变更时到达的结果直接丢弃
func (b *breaker) afterCall(gen uint64, o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return
	}

	switch o {
	case outcomeSuccess:
		b.onSuccess()
	case outcomeFailure:
		b.onFailure()
	default:
		// 中性结果只释放探测名额，下一次调用重新探测
		if b.state == StateHalfOpen {
			b.probing = false
		}
	}
}

// onSuccess 处理成功调用
func (b *breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.logger.Info("熔断器恢复正常")
		b.setState(StateClosed)
		b.failureCount = 0
		b.probing = false
	}
}

// onFailure 处理失败调用
func (b *breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = b.config.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		b.logger.Warn("熔断器半开状态探测失败，重新打开")
		b.setState(StateOpen)
		b.probing = false
	}
}

// setState 设置状态并触发回调
func (b *breaker) setState(newState State) {
	oldState := b.state
	b.state = newState
	b.generation++

	if b.config.OnStateChange != nil && oldState != newState {
		go b.config.OnStateChange(oldState, newState)
	}
}

// State 实现 CircuitBreaker.State
func (b *breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset 实现 CircuitBreaker.Reset
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.setState(StateClosed)
	b.failureCount = 0
	b.probing = false

	b.logger.Info("熔断器已重置",
		zap.String("from_state", oldState.String()),
	)
}

// 错误定义
var (
	// ErrCircuitOpen 熔断打开，匹配所有快速失败的调用
	ErrCircuitOpen = types.NewError(types.ErrCircuitOpen, "circuit breaker is open").WithHTTPStatus(503)

	// ErrTooManyProbes 半开状态下已有探测在途
	ErrTooManyProbes = fmt.Errorf("%w: half-open probe limit reached", ErrCircuitOpen)
)

// OpenError 熔断期间的快速失败错误，携带建议的重试等待时间
type OpenError struct {
	Target     string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("circuit open, retry after %s", e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Target, e.RetryAfter.Round(time.Millisecond))
}

// Unwrap 使 errors.Is(err, ErrCircuitOpen) 成立
func (e *OpenError) Unwrap() error {
	return ErrCircuitOpen
}
