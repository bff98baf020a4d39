package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
)

// Factory 根据定义构建 Agent
type Factory func(def AgentDefinition, logger *zap.Logger) (Agent, error)

// Registry 管理 provider 工厂与已构建的 Agent，并发安全
type Registry struct {
	logger *zap.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	agents    map[string]Agent
}

// NewRegistry 创建空注册表
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:    logger.With(zap.String("component", "agent_registry")),
		factories: make(map[string]Factory),
		agents:    make(map[string]Agent),
	}
}

// RegisterFactory 注册 provider 类型的工厂，同名覆盖
func (r *Registry) RegisterFactory(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Add 直接注册一个已构建的 Agent
func (r *Registry) Add(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID()] = a
}

// Build 依次构建定义中的 Agent；任一失败即返回错误
func (r *Registry) Build(defs []AgentDefinition) error {
	for _, def := range defs {
		r.mu.RLock()
		f, ok := r.factories[def.Provider]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("agent %s: unknown provider %q", def.ID, def.Provider)
		}
		a, err := f(def, r.logger)
		if err != nil {
			return fmt.Errorf("agent %s: %w", def.ID, err)
		}
		r.Add(a)
		r.logger.Info("agent registered",
			zap.String("agent_id", def.ID),
			zap.String("provider", def.Provider),
			zap.String("model", def.Model),
		)
	}
	return nil
}

// Get 按 id 获取 Agent
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound, fmt.Sprintf("agent %q not registered", id))
	}
	return a, nil
}

// IDs 返回已注册 Agent 的 id（排序）
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
