// =============================================================================
// 📦 Roundtable 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:        DefaultServerConfig(),
		Auth:          AuthConfig{},
		Redis:         DefaultRedisConfig(),
		Database:      DefaultDatabaseConfig(),
		LLM:           DefaultLLMConfig(),
		Conversation:  DefaultConversationConfig(),
		Limits:        DefaultLimitsConfig(),
		Planner:       DefaultPlannerConfig(),
		Moderator:     DefaultModeratorConfig(),
		Resilience:    DefaultResilienceConfig(),
		RateLimit:     DefaultRateLimitConfig(),
		Documentation: DefaultDocumentationConfig(),
		Persistence:   DefaultPersistenceConfig(),
		Webhook:       DefaultWebhookConfig(),
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "roundtable",
		Password:        "",
		Name:            "./data/roundtable.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL: "https://api.openai.com/v1",
		Timeout: 2 * time.Minute,
	}
}

// DefaultConversationConfig 返回默认调度与编排配置
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		MaxResponsesPerTurn: 2,
		Concurrency:         3,
		BatchWindow:         10 * time.Second,
		FollowUpRounds:      2,
		KickoffOnApprove:    true,
		SweepInterval:       30 * time.Second,
		KeepRecent:          10,
	}
}

// DefaultLimitsConfig 返回默认限额
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxMessages:          50,
		CostLimit:            1.00,
		Timeout:              30 * time.Minute,
		CompressionThreshold: 40,
	}
}

// DefaultPlannerConfig 返回默认规划配置
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxQuestions:     5,
		Timeout:          30 * time.Minute,
		ApprovalKeywords: []string{"approve", "approved", "start", "go", "yes", "lgtm", "let's go"},
	}
}

// DefaultModeratorConfig 返回默认主持配置
func DefaultModeratorConfig() ModeratorConfig {
	return ModeratorConfig{
		CheckInterval:    10,
		DriftWindow:      5,
		DriftThreshold:   0.6,
		MaxDriftWarnings: 3,
	}
}

// DefaultResilienceConfig 返回默认重试与熔断配置
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxAttempts:         3,
		InitialDelay:        time.Second,
		MaxDelay:            30 * time.Second,
		Multiplier:          2.0,
		Jitter:              true,
		BreakerThreshold:    5,
		BreakerResetTimeout: 60 * time.Second,
	}
}

// DefaultRateLimitConfig 返回默认限流配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		AgentRPS:   2,
		AgentBurst: 4,
		DocsRPS:    1,
		DocsBurst:  2,
		IdleTTL:    30 * time.Minute,
	}
}

// DefaultDocumentationConfig 返回默认文档配置
func DefaultDocumentationConfig() DocumentationConfig {
	return DocumentationConfig{
		Enabled:        true,
		Store:          "memory",
		UpdateInterval: 30 * time.Second,
		FlushTimeout:   time.Minute,
		SummaryLimit:   4000,
	}
}

// DefaultPersistenceConfig 返回默认快照配置
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Type:              "memory",
		BaseDir:           "./data/snapshots",
		KeyPrefix:         "roundtable:",
		CleanupEnabled:    true,
		CleanupInterval:   time.Hour,
		TerminalRetention: 7 * 24 * time.Hour,
	}
}

// DefaultWebhookConfig 返回默认出站投递配置
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Timeout:  10 * time.Second,
		Attempts: 3,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "roundtable",
		SampleRate:   0.1,
	}
}
