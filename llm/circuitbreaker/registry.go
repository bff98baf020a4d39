package circuitbreaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry 按目标（agent id、下游服务名）维护独立的熔断器
type Registry struct {
	config   Config
	logger   *zap.Logger
	onChange func(target string, from, to State)

	mu       sync.Mutex
	breakers map[string]*breaker
}

// RegistryOption 配置 Registry
type RegistryOption func(*Registry)

// WithStateListener 注册状态变更监听，参数带上目标名
func WithStateListener(fn func(target string, from, to State)) RegistryOption {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry 以 config 为模板创建熔断器注册表
func NewRegistry(config *Config, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		config:   *config,
		logger:   logger.With(zap.String("component", "circuitbreaker")),
		breakers: make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get 返回 target 对应的熔断器，不存在时惰性创建
func (r *Registry) Get(target string) CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[target]; ok {
		return b
	}

	cfg := r.config
	userHook := cfg.OnStateChange
	if r.onChange != nil || userHook != nil {
		cfg.OnStateChange = func(from, to State) {
			if userHook != nil {
				userHook(from, to)
			}
			if r.onChange != nil {
				r.onChange(target, from, to)
			}
		}
	}

	b := newBreaker(target, &cfg, r.logger)
	r.breakers[target] = b
	return b
}

// States 返回所有已创建熔断器的当前状态
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for target, b := range r.breakers {
		out[target] = b.State()
	}
	return out
}

// Targets 返回已知目标（排序）
func (r *Registry) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.breakers))
	for target := range r.breakers {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// Reset 手动恢复 target 的熔断器；未知目标返回 false
func (r *Registry) Reset(target string) bool {
	r.mu.Lock()
	b, ok := r.breakers[target]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}
