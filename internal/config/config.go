// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roomdoor/fan-out-call/internal/fanout"
	"github.com/roomdoor/fan-out-call/internal/provider"
	"github.com/roomdoor/fan-out-call/internal/store"
)

// ErrInvalid is returned when the loaded configuration is unusable.
var ErrInvalid = errors.New("invalid configuration")

const (
	envConfigFile = "LOANLIMIT_CONFIG"

	envListenAddr           = "LOANLIMIT_LISTEN_ADDR"
	envLogLevel             = "LOANLIMIT_LOG_LEVEL"
	envDBDriver             = "LOANLIMIT_DB_DRIVER"
	envDBPath               = "LOANLIMIT_DB_PATH"
	envDBURL                = "LOANLIMIT_DB_URL"
	envProviderCount        = "LOANLIMIT_PROVIDER_COUNT"
	envProviderBaseURL      = "LOANLIMIT_PROVIDER_BASE_URL"
	envParallelism          = "LOANLIMIT_PARALLELISM"
	envPerCallTimeoutMs     = "LOANLIMIT_PER_CALL_TIMEOUT_MS"
	envRequiredCompletionMs = "LOANLIMIT_REQUIRED_COMPLETION_MS"
	envCorePoolSize         = "LOANLIMIT_CORE_POOL_SIZE"
	envMaxPoolSize          = "LOANLIMIT_MAX_POOL_SIZE"
	envQueueCapacity        = "LOANLIMIT_QUEUE_CAPACITY"
	envKeepAliveMs          = "LOANLIMIT_KEEP_ALIVE_MS"
	envMaxConcurrency       = "LOANLIMIT_MAX_CONCURRENCY"
	envAMQPURL              = "LOANLIMIT_AMQP_URL"
	envMockListenAddr       = "LOANLIMIT_MOCK_LISTEN_ADDR"
	envMockMinLatencyMs     = "LOANLIMIT_MOCK_MIN_LATENCY_MS"
	envMockMaxLatencyMs     = "LOANLIMIT_MOCK_MAX_LATENCY_MS"
	envMockSlowCount        = "LOANLIMIT_MOCK_SLOW_COUNT"
	envMockSlowMinLatencyMs = "LOANLIMIT_MOCK_SLOW_MIN_LATENCY_MS"
	envMockSlowMaxLatencyMs = "LOANLIMIT_MOCK_SLOW_MAX_LATENCY_MS"
	envMockSuccessRate      = "LOANLIMIT_MOCK_SUCCESS_RATE_PERCENT"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	LogLevel   string          `yaml:"log_level"`
	DB         DBConfig        `yaml:"db"`
	Providers  ProvidersConfig `yaml:"providers"`
	Fanout     FanoutConfig    `yaml:"fanout"`
	AMQP       AMQPConfig      `yaml:"amqp"`
	Mock       MockConfig      `yaml:"mock"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

type ProvidersConfig struct {
	Count   int    `yaml:"count"`
	BaseURL string `yaml:"base_url"`
}

// FanoutConfig sizes the strategies. Durations are in milliseconds.
type FanoutConfig struct {
	Parallelism          int `yaml:"parallelism"`
	PerCallTimeoutMs     int `yaml:"per_call_timeout_ms"`
	RequiredCompletionMs int `yaml:"required_completion_ms"`
	CorePoolSize         int `yaml:"core_pool_size"`
	MaxPoolSize          int `yaml:"max_pool_size"`
	QueueCapacity        int `yaml:"queue_capacity"`
	KeepAliveMs          int `yaml:"keep_alive_ms"`
	MaxConcurrency       int `yaml:"max_concurrency"`
}

// AMQPConfig enables run notifications when URL is set.
type AMQPConfig struct {
	URL string `yaml:"url"`
}

// MockConfig drives the mock lender. Durations are in milliseconds.
type MockConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	MinLatencyMs       int    `yaml:"min_latency_ms"`
	MaxLatencyMs       int    `yaml:"max_latency_ms"`
	SlowCount          int    `yaml:"slow_count"`
	SlowMinLatencyMs   int    `yaml:"slow_min_latency_ms"`
	SlowMaxLatencyMs   int    `yaml:"slow_max_latency_ms"`
	SuccessRatePercent int    `yaml:"success_rate_percent"`
}

// Default returns the built-in configuration.
func Default() Config {
	sim := provider.DefaultSimulatorConfig()
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		DB: DBConfig{
			Driver: store.DriverSQLite,
			Path:   "loanlimit.db",
		},
		Providers: ProvidersConfig{
			Count:   50,
			BaseURL: "http://localhost:8081",
		},
		Fanout: FanoutConfig{
			Parallelism:          50,
			PerCallTimeoutMs:     5000,
			RequiredCompletionMs: 60000,
			CorePoolSize:         fanout.DefaultCorePoolSize,
			MaxPoolSize:          fanout.DefaultMaxPoolSize,
			QueueCapacity:        fanout.DefaultQueueCapacity,
			KeepAliveMs:          int(fanout.DefaultKeepAlive / time.Millisecond),
			MaxConcurrency:       50,
		},
		Mock: MockConfig{
			ListenAddr:         ":8081",
			MinLatencyMs:       int(sim.MinLatency / time.Millisecond),
			MaxLatencyMs:       int(sim.MaxLatency / time.Millisecond),
			SlowCount:          sim.SlowCount,
			SlowMinLatencyMs:   int(sim.SlowMinLatency / time.Millisecond),
			SlowMaxLatencyMs:   int(sim.SlowMaxLatency / time.Millisecond),
			SuccessRatePercent: sim.SuccessRatePercent,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// LOANLIMIT_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	envString(&c.ListenAddr, envListenAddr)
	envString(&c.LogLevel, envLogLevel)
	envString(&c.DB.Driver, envDBDriver)
	envString(&c.DB.Path, envDBPath)
	envString(&c.DB.URL, envDBURL)
	envString(&c.Providers.BaseURL, envProviderBaseURL)
	envString(&c.AMQP.URL, envAMQPURL)
	envString(&c.Mock.ListenAddr, envMockListenAddr)

	ints := []struct {
		dst *int
		key string
	}{
		{&c.Providers.Count, envProviderCount},
		{&c.Fanout.Parallelism, envParallelism},
		{&c.Fanout.PerCallTimeoutMs, envPerCallTimeoutMs},
		{&c.Fanout.RequiredCompletionMs, envRequiredCompletionMs},
		{&c.Fanout.CorePoolSize, envCorePoolSize},
		{&c.Fanout.MaxPoolSize, envMaxPoolSize},
		{&c.Fanout.QueueCapacity, envQueueCapacity},
		{&c.Fanout.KeepAliveMs, envKeepAliveMs},
		{&c.Fanout.MaxConcurrency, envMaxConcurrency},
		{&c.Mock.MinLatencyMs, envMockMinLatencyMs},
		{&c.Mock.MaxLatencyMs, envMockMaxLatencyMs},
		{&c.Mock.SlowCount, envMockSlowCount},
		{&c.Mock.SlowMinLatencyMs, envMockSlowMinLatencyMs},
		{&c.Mock.SlowMaxLatencyMs, envMockSlowMaxLatencyMs},
		{&c.Mock.SuccessRatePercent, envMockSuccessRate},
	}
	for _, i := range ints {
		if err := envInt(i.dst, i.key); err != nil {
			return err
		}
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	*dst = n
	return nil
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case store.DriverSQLite:
	case store.DriverPostgres:
		if c.DB.URL == "" {
			return fmt.Errorf("%w: db.url is required for the postgres driver", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown db.driver %q", ErrInvalid, c.DB.Driver)
	}
	if c.Providers.Count < 0 {
		return fmt.Errorf("%w: providers.count must not be negative", ErrInvalid)
	}
	if c.Fanout.PerCallTimeoutMs <= 0 {
		return fmt.Errorf("%w: fanout.per_call_timeout_ms must be positive", ErrInvalid)
	}
	if c.Fanout.RequiredCompletionMs <= 0 {
		return fmt.Errorf("%w: fanout.required_completion_ms must be positive", ErrInvalid)
	}
	if c.Mock.SuccessRatePercent < 0 || c.Mock.SuccessRatePercent > 100 {
		return fmt.Errorf("%w: mock.success_rate_percent must be within 0..100", ErrInvalid)
	}
	if c.Mock.MinLatencyMs > c.Mock.MaxLatencyMs || c.Mock.SlowMinLatencyMs > c.Mock.SlowMaxLatencyMs {
		return fmt.Errorf("%w: mock latency minimum exceeds maximum", ErrInvalid)
	}
	return nil
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

// RequiredCompletion is the SLA a run is measured against.
func (c Config) RequiredCompletion() time.Duration {
	return time.Duration(c.Fanout.RequiredCompletionMs) * time.Millisecond
}

// FanoutConfig converts the strategy settings.
func (c Config) FanoutConfig() fanout.Config {
	return fanout.Config{
		PerCallTimeout: time.Duration(c.Fanout.PerCallTimeoutMs) * time.Millisecond,
		Parallelism:    c.Fanout.Parallelism,
		CorePoolSize:   c.Fanout.CorePoolSize,
		MaxPoolSize:    c.Fanout.MaxPoolSize,
		QueueCapacity:  c.Fanout.QueueCapacity,
		KeepAlive:      time.Duration(c.Fanout.KeepAliveMs) * time.Millisecond,
		MaxConcurrency: c.Fanout.MaxConcurrency,
	}
}

// SimulatorConfig converts the mock lender settings.
func (c Config) SimulatorConfig() provider.SimulatorConfig {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return provider.SimulatorConfig{
		ProviderCount:      c.Providers.Count,
		MinLatency:         ms(c.Mock.MinLatencyMs),
		MaxLatency:         ms(c.Mock.MaxLatencyMs),
		SlowCount:          c.Mock.SlowCount,
		SlowMinLatency:     ms(c.Mock.SlowMinLatencyMs),
		SlowMaxLatency:     ms(c.Mock.SlowMaxLatencyMs),
		SuccessRatePercent: c.Mock.SuccessRatePercent,
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
