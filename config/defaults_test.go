package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, ResilienceConfig{}, cfg.Resilience)
	assert.NotEqual(t, RateLimitConfig{}, cfg.RateLimit)
	assert.NotEqual(t, PersistenceConfig{}, cfg.Persistence)
	assert.NotEqual(t, WebhookConfig{}, cfg.Webhook)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.False(t, cfg.Auth.Enabled)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50.0, cfg.RateLimitRPS)
	assert.Equal(t, 100, cfg.RateLimitBurst)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "./data/roundtable.db", cfg.DSN())
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
}

func TestDefaultPlannerAndModeratorConfig(t *testing.T) {
	p := DefaultPlannerConfig()
	assert.Equal(t, 5, p.MaxQuestions)
	assert.Equal(t, 30*time.Minute, p.Timeout)
	assert.Contains(t, p.ApprovalKeywords, "lgtm")
	assert.Empty(t, p.Agent)

	m := DefaultModeratorConfig()
	assert.Equal(t, 10, m.CheckInterval)
	assert.Equal(t, 5, m.DriftWindow)
	assert.InDelta(t, 0.6, m.DriftThreshold, 0.001)
	assert.Equal(t, 3, m.MaxDriftWarnings)
}

func TestDefaultResilienceConfig(t *testing.T) {
	cfg := DefaultResilienceConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 5, cfg.BreakerThreshold)
	assert.Equal(t, 60*time.Second, cfg.BreakerResetTimeout)
}

func TestDefaultPersistenceConfig(t *testing.T) {
	cfg := DefaultPersistenceConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "./data/snapshots", cfg.BaseDir)
	assert.True(t, cfg.CleanupEnabled)
	assert.Equal(t, 168*time.Hour, cfg.TerminalRetention)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "roundtable", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
