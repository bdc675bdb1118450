package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/store/postgres"
	"github.com/chatshell/streamcore/internal/store/redis"
	"github.com/chatshell/streamcore/internal/streaming"
)

// ObservabilityConfig holds logging/metrics toggles.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled  bool   `mapstructure:"enabled"`
		Provider string `mapstructure:"provider"`
		Port     int    `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// StreamSettings mirrors streaming.StreamConfig in a viper/mapstructure
// friendly shape (durations as seconds) and converts to it. Kept distinct
// from streaming.StreamConfig so the streaming package stays free of a
// config-loading dependency.
type StreamSettings struct {
	BufferSize           int    `mapstructure:"buffer_size"`
	BufferAgeSeconds     int    `mapstructure:"buffer_age_seconds"`
	EnableRecovery       bool   `mapstructure:"enable_recovery"`
	EmitCheckpoints      bool   `mapstructure:"emit_checkpoints"`
	CheckpointInterval   uint64 `mapstructure:"checkpoint_interval"`
	HeartbeatSeconds     int    `mapstructure:"heartbeat_seconds"`
	MaxConcurrentClients int    `mapstructure:"max_concurrent_clients"`
}

// ToStreamConfig fills in any zero-valued field from
// streaming.DefaultStreamConfig before handing the result to
// Core.CreateStream.
func (s StreamSettings) ToStreamConfig() streaming.StreamConfig {
	cfg := streaming.DefaultStreamConfig()
	if s.BufferSize > 0 {
		cfg.BufferSize = s.BufferSize
	}
	if s.BufferAgeSeconds > 0 {
		cfg.BufferAge = time.Duration(s.BufferAgeSeconds) * time.Second
	}
	cfg.EnableRecovery = s.EnableRecovery
	cfg.EmitCheckpoints = s.EmitCheckpoints
	if s.CheckpointInterval > 0 {
		cfg.CheckpointInterval = s.CheckpointInterval
	}
	if s.HeartbeatSeconds > 0 {
		cfg.HeartbeatInterval = time.Duration(s.HeartbeatSeconds) * time.Second
	}
	if s.MaxConcurrentClients > 0 {
		cfg.MaxConcurrentClients = s.MaxConcurrentClients
	}
	return cfg
}

// RateLimitConfig configures both the connect-time limiter and the
// distributed counterpart in internal/ratelimit.
type RateLimitConfig struct {
	ConnectRPS         float64       `mapstructure:"connect_rps"`
	ConnectBurst       int           `mapstructure:"connect_burst"`
	DistributedEnabled bool          `mapstructure:"distributed_enabled"`
	DistributedLimit   int           `mapstructure:"distributed_limit"`
	DistributedWindow  time.Duration `mapstructure:"distributed_window"`
}

// ProviderConfig configures the LLM provider the Agent Adapter streams
// completions from.
type ProviderConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

// TaskQueueConfig sizes the Task Queue's pending channel.
type TaskQueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// AuthConfig configures the JWT issuer fronting the HTTP API.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	SkipAuth  bool   `mapstructure:"skip_auth"`
}

// Features is the process-level, hot-reloadable configuration tree loaded
// from streaming.yaml. Observability is carried over unchanged; the rest
// replaces the orchestration-era budget/workflow/gateway sections with
// this domain's own: stream defaults, store connections, rate limiting,
// and the provider behind the Agent Adapter.
type Features struct {
	Observability ObservabilityConfig `mapstructure:"observability"`
	Stream        StreamSettings      `mapstructure:"stream"`
	Postgres      postgres.Config     `mapstructure:"postgres"`
	Redis         redis.Config        `mapstructure:"redis"`
	TaskQueue     TaskQueueConfig     `mapstructure:"task_queue"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Auth          AuthConfig          `mapstructure:"auth"`
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	if _, err := os.Stat("/app/config/streaming.yaml"); err == nil {
		return "/app/config/streaming.yaml"
	}
	return "config/streaming.yaml"
}

func newViper() *viper.Viper {
	cfgPath := configPath()
	if info, err := os.Stat(cfgPath); err == nil && info.IsDir() {
		cfgPath = filepath.Join(cfgPath, "streaming.yaml")
	}
	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix("STREAMCORE")
	v.AutomaticEnv()
	return v
}

// Load reads streaming.yaml from CONFIG_PATH (or /app/config/streaming.yaml,
// falling back to config/streaming.yaml), filling any field the file
// leaves zero-valued from this package's and the store packages' own
// defaults.
func Load() (*Features, error) {
	v := newViper()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
	}
	var f Features
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&f)
	applyEnvOverrides(&f)
	return &f, nil
}

func applyDefaults(f *Features) {
	pgDefault := postgres.DefaultConfig()
	if f.Postgres.Host == "" {
		f.Postgres.Host = pgDefault.Host
	}
	if f.Postgres.Port == 0 {
		f.Postgres.Port = pgDefault.Port
	}
	if f.Postgres.SSLMode == "" {
		f.Postgres.SSLMode = pgDefault.SSLMode
	}
	if f.Postgres.MaxConnections == 0 {
		f.Postgres.MaxConnections = pgDefault.MaxConnections
	}
	if f.Postgres.IdleConnections == 0 {
		f.Postgres.IdleConnections = pgDefault.IdleConnections
	}
	if f.Postgres.MaxLifetime == 0 {
		f.Postgres.MaxLifetime = pgDefault.MaxLifetime
	}

	redisDefault := redis.DefaultConfig()
	if f.Redis.Addr == "" {
		f.Redis.Addr = redisDefault.Addr
	}
	if f.Redis.TTL == 0 {
		f.Redis.TTL = redisDefault.TTL
	}

	if f.TaskQueue.Capacity == 0 {
		f.TaskQueue.Capacity = 100
	}
	if f.RateLimit.ConnectRPS == 0 {
		f.RateLimit.ConnectRPS = 5
	}
	if f.RateLimit.ConnectBurst == 0 {
		f.RateLimit.ConnectBurst = 10
	}
	if f.RateLimit.DistributedLimit == 0 {
		f.RateLimit.DistributedLimit = 100
	}
	if f.RateLimit.DistributedWindow == 0 {
		f.RateLimit.DistributedWindow = time.Minute
	}
	if f.Provider.Model == "" {
		f.Provider.Model = "gpt-4o"
	}
	if f.Provider.Temperature == 0 {
		f.Provider.Temperature = 0.7
	}
	if f.Auth.JWTSecret == "" {
		f.Auth.JWTSecret = "dev-insecure-secret"
		f.Auth.SkipAuth = true
	}
}

// applyEnvOverrides lets a handful of deployment-critical settings be set
// without editing streaming.yaml, matching the teacher's env-override
// idiom for config that tends to differ per environment (credentials,
// connection hosts).
func applyEnvOverrides(f *Features) {
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		f.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Postgres.Port = n
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		f.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		f.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		f.Postgres.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		f.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		f.Redis.Password = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		f.Provider.APIKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		f.Auth.JWTSecret = v
		f.Auth.SkipAuth = false
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Observability.Metrics.Port = n
		}
	}
}

// MetricsPort returns the configured metrics port, falling back to
// defaultPort if unset.
func MetricsPort(defaultPort int) int {
	f, err := Load()
	if err != nil || f.Observability.Metrics.Port == 0 {
		return defaultPort
	}
	return f.Observability.Metrics.Port
}

// Manager hot-reloads streaming.yaml using ConfigManager's file-watching
// and exposes the latest parsed Features atomically. Core.CreateStream
// copies whatever StreamConfig it's handed at creation time, so live
// streams keep running against the snapshot they started with; main.go
// builds the Core from the Features loaded at startup and does not read the
// Manager's snapshot afterward, so a reload does not change the defaults of
// new streams.
type Manager struct {
	cm      *ConfigManager
	current atomic.Pointer[Features]
	logger  *zap.Logger
}

// NewManager loads streaming.yaml once and wires a watcher over its
// directory for subsequent changes.
func NewManager(logger *zap.Logger) (*Manager, error) {
	f, err := Load()
	if err != nil {
		return nil, err
	}
	configDir := filepath.Dir(configPath())
	cm, err := NewConfigManager(configDir, logger)
	if err != nil {
		return nil, err
	}
	m := &Manager{cm: cm, logger: logger}
	m.current.Store(f)
	cm.RegisterHandler(filepath.Base(configPath()), m.onChange)
	return m, nil
}

// Start begins watching for changes.
func (m *Manager) Start(ctx context.Context) error {
	return m.cm.Start(ctx)
}

// Stop stops the watcher.
func (m *Manager) Stop() error {
	return m.cm.Stop()
}

// Features returns the most recently loaded configuration.
func (m *Manager) Features() *Features {
	return m.current.Load()
}

// StreamConfig returns the StreamConfig built from the most recently loaded
// configuration.
func (m *Manager) StreamConfig() streaming.StreamConfig {
	return m.current.Load().Stream.ToStreamConfig()
}

func (m *Manager) onChange(event ChangeEvent) error {
	f, err := Load()
	if err != nil {
		m.logger.Warn("config reload failed, keeping previous configuration", zap.Error(err))
		return err
	}
	m.current.Store(f)
	m.logger.Info("configuration reloaded", zap.String("file", event.File))
	return nil
}

// ParseBool converts common string representations to bool.
func ParseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n != 0
		}
	}
	return false
}
