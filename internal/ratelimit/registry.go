package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrLimited 非阻塞获取令牌失败
var ErrLimited = errors.New("rate limited")

// Rule 单个键的令牌桶参数；RPS <= 0 表示不限流
type Rule struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

func (r Rule) limiter() *rate.Limiter {
	if r.RPS <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := r.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.RPS), burst)
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Registry 按键维护令牌桶
type Registry struct {
	defaultRule Rule
	rules       map[string]Rule
	logger      *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry 创建注册表；rules 中未列出的键使用 defaultRule
func NewRegistry(defaultRule Rule, rules map[string]Rule, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	copied := make(map[string]Rule, len(rules))
	for k, v := range rules {
		copied[k] = v
	}
	return &Registry{
		defaultRule: defaultRule,
		rules:       copied,
		logger:      logger.With(zap.String("component", "ratelimit")),
		entries:     make(map[string]*entry),
	}
}

func (r *Registry) get(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		rule, found := r.rules[key]
		if !found {
			rule = r.defaultRule
		}
		e = &entry{limiter: rule.limiter()}
		r.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Wait 阻塞直到 key 获得一个令牌
func (r *Registry) Wait(ctx context.Context, key string) error {
	if err := r.get(key).Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s: %w", key, err)
	}
	return nil
}

// Allow 尝试立即获取令牌，失败返回 ErrLimited
func (r *Registry) Allow(key string) error {
	if !r.get(key).Allow() {
		r.logger.Debug("request limited", zap.String("key", key))
		return ErrLimited
	}
	return nil
}

// Len 当前跟踪的键数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep 删除空闲超过 idle 的键，返回删除数量
func (r *Registry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	n := 0
	for key, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			delete(r.entries, key)
			n++
		}
	}
	return n
}

// StartJanitor 每 interval 清理一次空闲键，直到 ctx 结束
func (r *Registry) StartJanitor(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(idle); n > 0 {
					r.logger.Debug("swept idle limiters", zap.Int("count", n))
				}
			}
		}
	}()
}
