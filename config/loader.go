// =============================================================================
// 📦 Roundtable 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("ROUNDTABLE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Roundtable 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Auth 鉴权配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Redis 快照存储使用的 Redis
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 文档存储使用的数据库
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// LLM 参与讨论的模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Conversation 调度与编排配置
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`

	// Limits 规划未给出参数时使用的默认限额
	Limits LimitsConfig `yaml:"limits" env:"LIMITS"`

	// Planner 规划配置
	Planner PlannerConfig `yaml:"planner" env:"PLANNER"`

	// Moderator 主持配置
	Moderator ModeratorConfig `yaml:"moderator" env:"MODERATOR"`

	// Resilience 重试与熔断配置
	Resilience ResilienceConfig `yaml:"resilience" env:"RESILIENCE"`

	// RateLimit 按目标限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// Documentation 文档记录配置
	Documentation DocumentationConfig `yaml:"documentation" env:"DOCUMENTATION"`

	// Persistence 会话快照配置
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`

	// Webhook 出站投递配置
	Webhook WebhookConfig `yaml:"webhook" env:"WEBHOOK"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时；一次入站请求可能等待整轮回复，需大于单轮耗时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的请求速率
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// AuthConfig JWT 鉴权配置
type AuthConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HMAC 密钥
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// 期望的签发者（可选）
	Issuer string `yaml:"issuer" env:"ISSUER"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// 未单独配置时使用的 API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 未单独配置时使用的基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Agents 参与者定义，仅支持 YAML
	Agents []AgentConfig `yaml:"agents" env:"-"`
}

// AgentConfig 单个参与者
type AgentConfig struct {
	ID                    string        `yaml:"id"`
	Provider              string        `yaml:"provider"`
	BaseURL               string        `yaml:"base_url"`
	Model                 string        `yaml:"model"`
	APIKey                string        `yaml:"api_key"`
	Timeout               time.Duration `yaml:"timeout"`
	MaxTokens             int           `yaml:"max_tokens"`
	Temperature           float32       `yaml:"temperature"`
	InputPricePerMillion  float64       `yaml:"input_price_per_million"`
	OutputPricePerMillion float64       `yaml:"output_price_per_million"`
	// Replies scripted provider 依次返回的文本
	Replies []string `yaml:"replies"`
}

// ConversationConfig 调度与编排配置
type ConversationConfig struct {
	// 新会话默认参与的 Agent；为空时使用全部已配置 Agent
	DefaultAgents []string `yaml:"default_agents" env:"DEFAULT_AGENTS"`
	// 每条消息最多连续的 Agent 回复数
	MaxResponsesPerTurn int `yaml:"max_responses_per_turn" env:"MAX_RESPONSES_PER_TURN"`
	// 一轮内并发调用数
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// 回复目标批处理窗口
	BatchWindow time.Duration `yaml:"batch_window" env:"BATCH_WINDOW"`
	// 单次 Agent 调用超时，0 表示不限制
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// Agent 回复后继续连锁调度的轮数
	FollowUpRounds int `yaml:"follow_up_rounds" env:"FOLLOW_UP_ROUNDS"`
	// 批准后立即调度开场轮
	KickoffOnApprove bool `yaml:"kickoff_on_approve" env:"KICKOFF_ON_APPROVE"`
	// 超时检查间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// 压缩后保留的消息数
	KeepRecent int `yaml:"keep_recent" env:"KEEP_RECENT"`
}

// LimitsConfig 默认限额
type LimitsConfig struct {
	MaxMessages          int           `yaml:"max_messages" env:"MAX_MESSAGES"`
	CostLimit            float64       `yaml:"cost_limit" env:"COST_LIMIT"`
	Timeout              time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CompressionThreshold int           `yaml:"compression_threshold" env:"COMPRESSION_THRESHOLD"`
}

// PlannerConfig 规划配置
type PlannerConfig struct {
	// 规划使用的 Agent id；为空时使用默认计划
	Agent string `yaml:"agent" env:"AGENT"`
	// 最多澄清问题数
	MaxQuestions int `yaml:"max_questions" env:"MAX_QUESTIONS"`
	// 规划超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 批准关键字
	ApprovalKeywords []string `yaml:"approval_keywords" env:"APPROVAL_KEYWORDS"`
}

// ModeratorConfig 主持配置
type ModeratorConfig struct {
	// 偏离检测使用的 Agent id；为空时不做偏离检测
	Agent string `yaml:"agent" env:"AGENT"`
	// 检测间隔（消息数）
	CheckInterval int `yaml:"check_interval" env:"CHECK_INTERVAL"`
	// 检测窗口（消息数）
	DriftWindow int `yaml:"drift_window" env:"DRIFT_WINDOW"`
	// 偏离阈值
	DriftThreshold float64 `yaml:"drift_threshold" env:"DRIFT_THRESHOLD"`
	// 引导次数上限
	MaxDriftWarnings int `yaml:"max_drift_warnings" env:"MAX_DRIFT_WARNINGS"`
}

// ResilienceConfig 重试与熔断配置
type ResilienceConfig struct {
	// 总尝试次数（包含首次）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 初始退避
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大退避
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 退避倍数
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 是否添加抖动
	Jitter bool `yaml:"jitter" env:"JITTER"`
	// 熔断阈值（连续失败次数）
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断恢复等待
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
}

// RateLimitConfig 按目标的令牌桶
type RateLimitConfig struct {
	// 每个 Agent 的速率
	AgentRPS float64 `yaml:"agent_rps" env:"AGENT_RPS"`
	// 每个 Agent 的突发数
	AgentBurst int `yaml:"agent_burst" env:"AGENT_BURST"`
	// 文档写入速率
	DocsRPS float64 `yaml:"docs_rps" env:"DOCS_RPS"`
	// 文档写入突发数
	DocsBurst int `yaml:"docs_burst" env:"DOCS_BURST"`
	// 空闲键回收时间
	IdleTTL time.Duration `yaml:"idle_ttl" env:"IDLE_TTL"`
}

// DocumentationConfig 文档记录配置
type DocumentationConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 存储: memory, sql
	Store string `yaml:"store" env:"STORE"`
	// 防抖间隔
	UpdateInterval time.Duration `yaml:"update_interval" env:"UPDATE_INTERVAL"`
	// 单次刷新超时
	FlushTimeout time.Duration `yaml:"flush_timeout" env:"FLUSH_TIMEOUT"`
	// 生成摘要的 Agent id；为空时机械截断
	SummarizerAgent string `yaml:"summarizer_agent" env:"SUMMARIZER_AGENT"`
	// 机械摘要的最大字节数
	SummaryLimit int `yaml:"summary_limit" env:"SUMMARY_LIMIT"`
}

// PersistenceConfig 会话快照配置
type PersistenceConfig struct {
	// 后端: memory, file, redis
	Type string `yaml:"type" env:"TYPE"`
	// file 后端目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 是否清理终止会话
	CleanupEnabled bool `yaml:"cleanup_enabled" env:"CLEANUP_ENABLED"`
	// 清理间隔
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	// 终止会话保留时长
	TerminalRetention time.Duration `yaml:"terminal_retention" env:"TERMINAL_RETENTION"`
}

// WebhookConfig 出站投递配置
type WebhookConfig struct {
	// 回调地址；为空时不投递
	URL string `yaml:"url" env:"URL"`
	// HMAC 签名密钥（可选）
	Secret string `yaml:"secret" env:"SECRET"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 投递尝试次数
	Attempts int `yaml:"attempts" env:"ATTEMPTS"`
	// 接收方私有 CA 的 PEM 文件（可选）
	CAFile string `yaml:"ca_file" env:"CA_FILE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ROUNDTABLE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when auth is enabled")
	}

	// 验证会话配置
	if c.Conversation.MaxResponsesPerTurn <= 0 {
		errs = append(errs, "max_responses_per_turn must be positive")
	}
	if c.Conversation.Concurrency <= 0 {
		errs = append(errs, "concurrency must be positive")
	}
	if c.Limits.CostLimit < 0 {
		errs = append(errs, "cost_limit must not be negative")
	}
	if c.Moderator.DriftThreshold < 0 || c.Moderator.DriftThreshold > 1 {
		errs = append(errs, "drift_threshold must be between 0 and 1")
	}
	if c.Resilience.MaxAttempts <= 0 {
		errs = append(errs, "max_attempts must be positive")
	}

	// 验证 Agent 定义
	seen := make(map[string]bool, len(c.LLM.Agents))
	for i, a := range c.LLM.Agents {
		switch {
		case a.ID == "":
			errs = append(errs, fmt.Sprintf("llm.agents[%d]: id is required", i))
		case seen[a.ID]:
			errs = append(errs, fmt.Sprintf("llm.agents[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
	}
	for _, id := range c.Conversation.DefaultAgents {
		if len(c.LLM.Agents) > 0 && !seen[id] {
			errs = append(errs, fmt.Sprintf("default agent %q is not configured", id))
		}
	}

	switch c.Persistence.Type {
	case "", "memory", "file", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unsupported persistence type %q", c.Persistence.Type))
	}
	switch c.Documentation.Store {
	case "", "memory", "sql":
	default:
		errs = append(errs, fmt.Sprintf("unsupported documentation store %q", c.Documentation.Store))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
