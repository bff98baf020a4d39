package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/roundtable/agent/conversation"
	"github.com/BaSui01/roundtable/agent/dispatch"
	"github.com/BaSui01/roundtable/agent/docstore"
	"github.com/BaSui01/roundtable/agent/moderation"
	"github.com/BaSui01/roundtable/agent/orchestrator"
	"github.com/BaSui01/roundtable/agent/persistence"
	"github.com/BaSui01/roundtable/api/handlers"
	"github.com/BaSui01/roundtable/config"
	"github.com/BaSui01/roundtable/internal/cache"
	"github.com/BaSui01/roundtable/internal/database"
	"github.com/BaSui01/roundtable/internal/metrics"
	"github.com/BaSui01/roundtable/internal/ratelimit"
	"github.com/BaSui01/roundtable/internal/webhook"
	"github.com/BaSui01/roundtable/llm"
	"github.com/BaSui01/roundtable/llm/circuitbreaker"
	"github.com/BaSui01/roundtable/llm/providers/openaicompat"
	"github.com/BaSui01/roundtable/llm/resilience"
	"github.com/BaSui01/roundtable/llm/retry"
	"github.com/BaSui01/roundtable/llm/tokenizer"
	"github.com/BaSui01/roundtable/types"
	"go.uber.org/zap"
)

// dedupeTTL 入站事件 id 的去重窗口
const dedupeTTL = 24 * time.Hour

// =============================================================================
// 🧩 App 组件装配
// =============================================================================

// App 持有一次进程生命周期内的全部编排组件
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Metrics       *metrics.Collector
	Agents        *llm.Registry
	Breakers      *circuitbreaker.Registry
	Executor      *resilience.Executor
	Limiter       *ratelimit.Registry
	Snapshots     persistence.SnapshotStore
	Conversations *conversation.Store
	Docs          docstore.Store
	Documenter    *docstore.Documenter
	Orchestrator  *orchestrator.Orchestrator
	Claimer       cache.Claimer
	Health        *handlers.HealthHandler

	cancel    context.CancelFunc
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// NewApp 按配置装配组件、恢复快照并启动后台任务。
// 失败时已创建的资源会被释放。
func NewApp(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (app *App, err error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &App{
		cfg:     cfg,
		logger:  logger,
		Metrics: collector,
		Health:  handlers.NewHealthHandler(logger),
		cancel:  cancel,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.initAgents(); err != nil {
		return nil, err
	}
	a.initResilience(ctx)
	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.initDocumentation(); err != nil {
		return nil, err
	}
	if err := a.initOrchestrator(ctx); err != nil {
		return nil, err
	}

	a.Health.SetStats(a.countByStatus)
	logger.Info("application assembled",
		zap.Strings("agents", a.Agents.IDs()),
		zap.String("persistence", cfg.Persistence.Type),
		zap.Bool("documentation", a.Documenter != nil),
		zap.Bool("webhook", cfg.Webhook.URL != ""),
	)
	return a, nil
}

// initAgents 注册 provider 工厂并构建配置中的 Agent
func (a *App) initAgents() error {
	tokenizer.RegisterOpenAI()
	a.Agents = llm.NewRegistry(a.logger)
	a.Agents.RegisterFactory(openaicompat.ProviderKind, openaicompat.Factory)
	a.Agents.RegisterFactory(llm.ScriptedKind, llm.ScriptedFactory)
	if err := a.Agents.Build(agentDefinitions(a.cfg.LLM)); err != nil {
		return fmt.Errorf("build agents: %w", err)
	}
	return nil
}

// initResilience 创建熔断注册表、重试执行器与限流注册表
func (a *App) initResilience(ctx context.Context) {
	rc := a.cfg.Resilience
	a.Breakers = circuitbreaker.NewRegistry(&circuitbreaker.Config{
		Threshold:    rc.BreakerThreshold,
		ResetTimeout: rc.BreakerResetTimeout,
	}, a.logger, circuitbreaker.WithStateListener(func(target string, from, to circuitbreaker.State) {
		a.Metrics.RecordCircuitState(target, from.String(), to.String(), int(to))
	}))
	a.Executor = resilience.NewExecutor(a.Breakers, &retry.RetryPolicy{
		MaxRetries:   rc.MaxAttempts,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		Jitter:       rc.Jitter,
	}, a.logger)

	rl := a.cfg.RateLimit
	a.Limiter = ratelimit.NewRegistry(
		ratelimit.Rule{RPS: rl.AgentRPS, Burst: rl.AgentBurst},
		map[string]ratelimit.Rule{docstore.DocsLimiterKey: {RPS: rl.DocsRPS, Burst: rl.DocsBurst}},
		a.logger,
	)
	if rl.IdleTTL > 0 {
		a.Limiter.StartJanitor(ctx, max(rl.IdleTTL/2, time.Minute), rl.IdleTTL)
	}
}

// initStorage 选择快照后端与去重实现，恢复会话并启动清理。
// redis 后端与事件去重共享同一个连接池。
func (a *App) initStorage(ctx context.Context) error {
	pc := a.cfg.Persistence
	storeCfg := persistence.StoreConfig{
		Type:    persistence.StoreType(pc.Type),
		BaseDir: pc.BaseDir,
		Redis:   persistence.RedisStoreConfig{KeyPrefix: pc.KeyPrefix},
		Cleanup: persistence.CleanupConfig{
			Enabled:           pc.CleanupEnabled,
			Interval:          pc.CleanupInterval,
			TerminalRetention: pc.TerminalRetention,
		},
	}

	if storeCfg.Type == persistence.StoreTypeRedis {
		rc := a.cfg.Redis
		mgr, err := cache.NewManager(cache.Config{
			Addr:                rc.Addr,
			Password:            rc.Password,
			DB:                  rc.DB,
			PoolSize:            rc.PoolSize,
			MinIdleConns:        rc.MinIdleConns,
			KeyPrefix:           pc.KeyPrefix,
			DefaultTTL:          dedupeTTL,
			HealthCheckInterval: 30 * time.Second,
		}, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, mgr.Close)
		a.Claimer = mgr
		a.Snapshots = persistence.NewRedisSnapshotStoreWithClient(mgr.Client(), storeCfg)
		a.Health.RegisterCheck(handlers.NewPingCheck("redis", mgr.Ping))
	} else {
		snapshots, err := persistence.NewSnapshotStore(storeCfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, snapshots.Close)
		a.Claimer = cache.NewMemoryClaimer(dedupeTTL)
		a.Snapshots = snapshots
		a.Health.RegisterCheck(handlers.NewPingCheck("snapshots", snapshots.Ping))
	}

	a.Conversations = conversation.NewStore(a.logger, conversation.WithSnapshotter(&meteredSnapshotter{
		store:   a.Snapshots,
		backend: string(storeCfg.Type),
		metrics: a.Metrics,
	}))
	if _, err := persistence.Rehydrate(ctx, a.Snapshots, a.Conversations, a.logger); err != nil {
		return fmt.Errorf("rehydrate conversations: %w", err)
	}
	persistence.StartCleanup(ctx, a.Snapshots, storeCfg.Cleanup, nil, a.logger)
	return nil
}

// initDocumentation 创建文档存储与记录器；未启用时跳过
func (a *App) initDocumentation() error {
	dc := a.cfg.Documentation
	if !dc.Enabled {
		return nil
	}

	switch dc.Store {
	case "sql":
		pm, err := database.Open(a.cfg.Database, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pm.Close)
		store, err := docstore.NewSQLStore(pm.DB(), a.logger)
		if err != nil {
			return err
		}
		a.Docs = store
		a.Health.RegisterCheck(handlers.NewPingCheck("database", pm.Ping))
	default:
		a.Docs = docstore.NewMemoryStore()
	}

	opts := []docstore.DocumenterOption{
		docstore.WithRateLimiter(a.Limiter),
		docstore.WithExecutor(a.Executor),
		docstore.WithSummaryLimit(dc.SummaryLimit),
	}
	if dc.SummarizerAgent != "" {
		agent, err := a.Agents.Get(dc.SummarizerAgent)
		if err != nil {
			return fmt.Errorf("summarizer: %w", err)
		}
		opts = append(opts, docstore.WithSummarizer(agent))
	}
	a.Documenter = docstore.NewDocumenter(a.Docs, a.Conversations, a.logger, opts...)
	return nil
}

// initOrchestrator 装配上下文管理、调度、规划、主持与编排器并启动超时检查
func (a *App) initOrchestrator(ctx context.Context) error {
	cc := a.cfg.Conversation

	counter := tokenizer.Counter(tokenizer.NewEstimator())
	if len(a.cfg.LLM.Agents) > 0 {
		counter = tokenizer.ForModel(a.cfg.LLM.Agents[0].Model)
	}
	managerOpts := []conversation.ManagerOption{
		conversation.WithCounter(counter),
		conversation.WithKeepRecent(cc.KeepRecent),
	}
	if a.Documenter != nil {
		managerOpts = append(managerOpts, conversation.WithContextSource(a.Documenter))
	}
	manager := conversation.NewContextManager(a.Conversations, a.logger, managerOpts...)

	coordOpts := []dispatch.Option{
		dispatch.WithRateLimiter(a.Limiter),
		dispatch.WithMetrics(a.Metrics),
	}
	if wc := a.cfg.Webhook; wc.URL != "" {
		tr, err := webhook.New(webhook.Config{URL: wc.URL, Secret: wc.Secret, Timeout: wc.Timeout, CAFile: wc.CAFile}, a.logger)
		if err != nil {
			return err
		}
		coordOpts = append(coordOpts, dispatch.WithTransport(tr))
	}
	coordinator := dispatch.NewCoordinator(dispatch.Config{
		MaxResponsesPerTurn: cc.MaxResponsesPerTurn,
		Concurrency:         cc.Concurrency,
		BatchWindow:         cc.BatchWindow,
		CallTimeout:         cc.CallTimeout,
		DeliveryAttempts:    a.cfg.Webhook.Attempts,
	}, manager, a.Agents, a.Executor, a.logger, coordOpts...)

	plannerAgent, err := a.optionalAgent(a.cfg.Planner.Agent)
	if err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	pc := a.cfg.Planner
	planner := moderation.NewPlanner(moderation.PlannerConfig{
		MaxQuestions:     pc.MaxQuestions,
		Timeout:          pc.Timeout,
		ApprovalKeywords: pc.ApprovalKeywords,
		DefaultLimits:    defaultLimits(a.cfg.Limits),
	}, manager, plannerAgent, a.Executor, a.logger)

	moderatorAgent, err := a.optionalAgent(a.cfg.Moderator.Agent)
	if err != nil {
		return fmt.Errorf("moderator: %w", err)
	}
	mc := a.cfg.Moderator
	moderator := moderation.NewModerator(moderation.ModeratorConfig{
		CheckInterval:    mc.CheckInterval,
		DriftWindow:      mc.DriftWindow,
		DriftThreshold:   mc.DriftThreshold,
		MaxDriftWarnings: mc.MaxDriftWarnings,
	}, manager, moderatorAgent, a.Executor, a.Metrics, a.logger)

	var debouncer *docstore.Debouncer
	if a.Documenter != nil {
		dc := a.cfg.Documentation
		debouncer = docstore.NewDebouncer(dc.UpdateInterval, a.Documenter.Flush, a.logger,
			docstore.WithMetrics(a.Metrics),
			docstore.WithActionTimeout(dc.FlushTimeout),
		)
	}

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		DefaultAgents:    a.participants(),
		FollowUpRounds:   cc.FollowUpRounds,
		SweepInterval:    cc.SweepInterval,
		KickoffOnApprove: cc.KickoffOnApprove,
	}, orchestrator.Deps{
		Manager:     manager,
		Coordinator: coordinator,
		Planner:     planner,
		Moderator:   moderator,
		Debouncer:   debouncer,
		Metrics:     a.Metrics,
	}, a.logger)
	a.Orchestrator.Start(ctx)
	return nil
}

// optionalAgent 按 id 取 Agent；id 为空时返回 nil 接口
func (a *App) optionalAgent(id string) (llm.Agent, error) {
	if id == "" {
		return nil, nil
	}
	return a.Agents.Get(id)
}

// participants 新会话默认参与者：显式配置优先，否则取全部不承担主持类角色的 Agent
func (a *App) participants() []string {
	if len(a.cfg.Conversation.DefaultAgents) > 0 {
		return a.cfg.Conversation.DefaultAgents
	}
	roles := make(map[string]bool, 3)
	for _, id := range []string{a.cfg.Planner.Agent, a.cfg.Moderator.Agent, a.cfg.Documentation.SummarizerAgent} {
		roles[id] = true
	}
	all := a.Agents.IDs()
	out := make([]string, 0, len(all))
	for _, id := range all {
		if !roles[id] {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// countByStatus 按状态统计会话，供健康检查展示
func (a *App) countByStatus() map[string]int {
	counts := make(map[string]int)
	for _, c := range a.Orchestrator.List("") {
		counts[string(c.Status)]++
	}
	return counts
}

// Routes 返回业务与探针路由
func (a *App) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.Health.HandleHealthz)
	mux.HandleFunc("GET /ready", a.Health.HandleReady)
	mux.HandleFunc("GET /version", a.Health.HandleVersion(Version, BuildTime, GitCommit))

	opts := []handlers.ConversationOption{handlers.WithDeduper(a.Claimer, dedupeTTL)}
	if a.Docs != nil {
		opts = append(opts, handlers.WithDocumentation(a.Docs))
	}
	handlers.NewConversationHandler(a.Orchestrator, a.logger, opts...).Register(mux)
	return mux
}

// Close 停止后台任务并按创建的逆序释放资源；可重复调用
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.Orchestrator != nil {
			a.Orchestrator.Close()
		}
		a.cancel()

		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// =============================================================================
// 🔧 配置转换
// =============================================================================

// agentDefinitions 把配置转换为 Agent 定义；未单独配置的字段取 llm 段全局值
func agentDefinitions(cfg config.LLMConfig) []llm.AgentDefinition {
	defs := make([]llm.AgentDefinition, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		def := llm.AgentDefinition{
			ID:          ac.ID,
			Provider:    ac.Provider,
			BaseURL:     ac.BaseURL,
			Model:       ac.Model,
			APIKey:      ac.APIKey,
			Timeout:     ac.Timeout,
			MaxTokens:   ac.MaxTokens,
			Temperature: ac.Temperature,
			Pricing: llm.Pricing{
				InputPerMillion:  ac.InputPricePerMillion,
				OutputPerMillion: ac.OutputPricePerMillion,
			},
			Replies: ac.Replies,
		}
		if def.Provider == "" {
			def.Provider = openaicompat.ProviderKind
		}
		if def.BaseURL == "" {
			def.BaseURL = cfg.BaseURL
		}
		if def.APIKey == "" {
			def.APIKey = cfg.APIKey
		}
		if def.Timeout == 0 {
			def.Timeout = cfg.Timeout
		}
		defs = append(defs, def)
	}
	return defs
}

func defaultLimits(cfg config.LimitsConfig) types.Limits {
	return types.Limits{
		MaxMessages:          cfg.MaxMessages,
		CostLimit:            cfg.CostLimit,
		Timeout:              cfg.Timeout,
		CompressionThreshold: cfg.CompressionThreshold,
	}
}

// =============================================================================
// 📊 快照指标
// =============================================================================

// meteredSnapshotter 记录每次快照写入的耗时与结果
type meteredSnapshotter struct {
	store   persistence.SnapshotStore
	backend string
	metrics *metrics.Collector
}

func (m *meteredSnapshotter) Save(ctx context.Context, conv types.Conversation) error {
	start := time.Now()
	err := m.store.Save(ctx, conv)
	m.metrics.RecordSnapshot(m.backend, time.Since(start), err)
	return err
}
