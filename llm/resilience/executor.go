package resilience

import (
	"context"

	"github.com/BaSui01/roundtable/llm/circuitbreaker"
	"github.com/BaSui01/roundtable/llm/retry"
	"go.uber.org/zap"
)

// Executor 持有熔断注册表与重试器
type Executor struct {
	breakers *circuitbreaker.Registry
	retryer  retry.Retryer
	logger   *zap.Logger
}

// NewExecutor 创建执行器；breakers 为 nil 时使用默认配置
func NewExecutor(breakers *circuitbreaker.Registry, policy *retry.RetryPolicy, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(nil, logger)
	}
	return &Executor{
		breakers: breakers,
		retryer:  retry.NewBackoffRetryer(policy, logger.With(zap.String("component", "retry"))),
		logger:   logger.With(zap.String("component", "resilience")),
	}
}

// Breakers 暴露注册表，便于查看状态和手动重置
func (e *Executor) Breakers() *circuitbreaker.Registry {
	return e.breakers
}

// Do 以 target 为熔断键执行 fn
func (e *Executor) Do(ctx context.Context, target string, fn func(ctx context.Context) (any, error)) (any, error) {
	cb := e.breakers.Get(target)
	return cb.CallWithResult(ctx, func(ctx context.Context) (any, error) {
		return e.retryer.DoWithResult(ctx, func() (any, error) {
			return fn(ctx)
		})
	})
}

// Execute 是 Executor.Do 的泛型版本
func Execute[T any](ctx context.Context, e *Executor, target string, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := e.Do(ctx, target, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := result.(T)
	return v, nil
}
