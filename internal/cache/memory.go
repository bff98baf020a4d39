package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryClaimer 进程内 Claimer，未配置 Redis 时使用
type MemoryClaimer struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryClaimer 创建进程内去重；defaultTTL 用于 Claim 的 ttl 为 0 时
func NewMemoryClaimer(defaultTTL time.Duration) *MemoryClaimer {
	if defaultTTL <= 0 {
		defaultTTL = DefaultConfig().DefaultTTL
	}
	return &MemoryClaimer{
		entries: make(map[string]time.Time),
		ttl:     defaultTTL,
		now:     time.Now,
	}
}

// Claim 占用键；过期条目在访问时顺带清理
func (c *MemoryClaimer) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, k)
		}
	}
	if _, ok := c.entries[key]; ok {
		return false, nil
	}
	c.entries[key] = now.Add(ttl)
	return true, nil
}

// Len 返回未过期条目数
func (c *MemoryClaimer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
