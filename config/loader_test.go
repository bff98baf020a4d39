// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证服务器默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	// 验证会话默认值
	assert.Equal(t, 2, cfg.Conversation.MaxResponsesPerTurn)
	assert.Equal(t, 3, cfg.Conversation.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Conversation.BatchWindow)
	assert.True(t, cfg.Conversation.KickoffOnApprove)

	// 验证限额默认值
	assert.Equal(t, 50, cfg.Limits.MaxMessages)
	assert.Equal(t, 1.0, cfg.Limits.CostLimit)
	assert.Equal(t, 30*time.Minute, cfg.Limits.Timeout)

	// 验证存储默认值
	assert.Equal(t, "memory", cfg.Persistence.Type)
	assert.Equal(t, "roundtable:", cfg.Persistence.KeyPrefix)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 0.6, cfg.Moderator.DriftThreshold)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

llm:
  api_key: "sk-shared"
  agents:
    - id: claude
      provider: openai-compatible
      model: claude-sonnet
      input_price_per_million: 3
      output_price_per_million: 15
    - id: gpt
      provider: openai-compatible
      model: gpt-4o
      temperature: 0.4

conversation:
  default_agents: [claude, gpt]
  batch_window: 3s

limits:
  cost_limit: 2.5

moderator:
  agent: gpt
  drift_threshold: 0.7

persistence:
  type: redis
  terminal_retention: 48h

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	require.Len(t, cfg.LLM.Agents, 2)
	assert.Equal(t, "claude", cfg.LLM.Agents[0].ID)
	assert.Equal(t, 15.0, cfg.LLM.Agents[0].OutputPricePerMillion)
	assert.InDelta(t, 0.4, cfg.LLM.Agents[1].Temperature, 0.001)
	assert.Equal(t, "sk-shared", cfg.LLM.APIKey)

	assert.Equal(t, []string{"claude", "gpt"}, cfg.Conversation.DefaultAgents)
	assert.Equal(t, 3*time.Second, cfg.Conversation.BatchWindow)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 3, cfg.Conversation.Concurrency)
	assert.Equal(t, 2.5, cfg.Limits.CostLimit)
	assert.Equal(t, 50, cfg.Limits.MaxMessages)
	assert.Equal(t, "gpt", cfg.Moderator.Agent)
	assert.Equal(t, 0.7, cfg.Moderator.DriftThreshold)
	assert.Equal(t, "redis", cfg.Persistence.Type)
	assert.Equal(t, 48*time.Hour, cfg.Persistence.TerminalRetention)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"ROUNDTABLE_SERVER_HTTP_PORT":                    "7777",
		"ROUNDTABLE_CONVERSATION_DEFAULT_AGENTS":         "claude, gpt",
		"ROUNDTABLE_CONVERSATION_BATCH_WINDOW":           "5s",
		"ROUNDTABLE_CONVERSATION_KICKOFF_ON_APPROVE":     "false",
		"ROUNDTABLE_CONVERSATION_MAX_RESPONSES_PER_TURN": "4",
		"ROUNDTABLE_LIMITS_COST_LIMIT":                   "0.25",
		"ROUNDTABLE_REDIS_ADDR":                          "env-redis:6379",
		"ROUNDTABLE_WEBHOOK_URL":                         "https://chat.example.com/hook",
		"ROUNDTABLE_LOG_LEVEL":                           "warn",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	// 加载配置
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	// 验证环境变量覆盖了默认值
	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"claude", "gpt"}, cfg.Conversation.DefaultAgents)
	assert.Equal(t, 5*time.Second, cfg.Conversation.BatchWindow)
	assert.False(t, cfg.Conversation.KickoffOnApprove)
	assert.Equal(t, 4, cfg.Conversation.MaxResponsesPerTurn)
	assert.Equal(t, 0.25, cfg.Limits.CostLimit)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "https://chat.example.com/hook", cfg.Webhook.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
planner:
  agent: "yaml-planner"
  max_questions: 2
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 设置环境变量（应该覆盖 YAML）
	t.Setenv("ROUNDTABLE_SERVER_HTTP_PORT", "9999")
	t.Setenv("ROUNDTABLE_PLANNER_AGENT", "env-planner")

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 环境变量应该覆盖 YAML
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-planner", cfg.Planner.Agent)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, 2, cfg.Planner.MaxQuestions)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_DOCUMENTATION_STORE", "sql")

	// 使用自定义前缀加载
	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "sql", cfg.Documentation.Store)
}

func TestLoader_BadEnvValue(t *testing.T) {
	t.Setenv("ROUNDTABLE_CONVERSATION_BATCH_WINDOW", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROUNDTABLE_CONVERSATION_BATCH_WINDOW")
}

func TestLoader_WithValidator(t *testing.T) {
	// 添加验证器
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	// 设置无效端口
	t.Setenv("ROUNDTABLE_SERVER_HTTP_PORT", "80")

	// 加载应该失败
	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// 应该返回默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	// 创建无效的 YAML 文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	// 加载应该失败
	_, err = NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid HTTP port (negative)",
			modify:  func(c *Config) { c.Server.HTTPPort = -1 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "invalid HTTP port (too large)",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "auth without secret",
			modify:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "jwt_secret",
		},
		{
			name:    "zero responses per turn",
			modify:  func(c *Config) { c.Conversation.MaxResponsesPerTurn = 0 },
			wantErr: "max_responses_per_turn",
		},
		{
			name:    "drift threshold too high",
			modify:  func(c *Config) { c.Moderator.DriftThreshold = 1.5 },
			wantErr: "drift_threshold",
		},
		{
			name: "duplicate agent ids",
			modify: func(c *Config) {
				c.LLM.Agents = []AgentConfig{{ID: "a"}, {ID: "a"}}
			},
			wantErr: "duplicate id",
		},
		{
			name: "default agent not configured",
			modify: func(c *Config) {
				c.LLM.Agents = []AgentConfig{{ID: "a"}}
				c.Conversation.DefaultAgents = []string{"b"}
			},
			wantErr: `default agent "b"`,
		},
		{
			name:    "unknown persistence type",
			modify:  func(c *Config) { c.Persistence.Type = "etcd" },
			wantErr: "persistence type",
		},
		{
			name:    "unknown documentation store",
			modify:  func(c *Config) { c.Documentation.Store = "s3" },
			wantErr: "documentation store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "sqlite DSN",
			config: DatabaseConfig{
				Driver: "sqlite",
				Name:   "/path/to/db.sqlite",
			},
			expected: "/path/to/db.sqlite",
		},
		{
			name: "unknown driver",
			config: DatabaseConfig{
				Driver: "unknown",
			},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  http_port: 8080\n"), 0644)
	require.NoError(t, err)

	// 不应该 panic
	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	// 应该 panic
	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("ROUNDTABLE_MODERATOR_AGENT", "env-judge")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-judge", cfg.Moderator.Agent)
}
