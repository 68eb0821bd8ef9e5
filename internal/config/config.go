// Package config loads client and server settings from YAML files and
// DEALSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the client runtime and the reference server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	DBPath    string          `yaml:"db_path"`
	ServerURL string          `yaml:"server_url"`
	TenantID  string          `yaml:"tenant_id"`
	Store     StoreConfig     `yaml:"store"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Cache     CacheConfig     `yaml:"cache"`
	Queue     QueueConfig     `yaml:"queue"`
}

// CacheConfig configures the in-memory fast-path cache.
type CacheConfig struct {
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StoreConfig configures the persistent store.
type StoreConfig struct {
	MaxBytes      int64         `yaml:"max_bytes"` // 0 - без ограничения
	SweepInterval time.Duration `yaml:"sweep_interval"`
	OpenTimeout   time.Duration `yaml:"open_timeout"`
}

// QueueConfig configures the offline mutation queue.
type QueueConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	DrainInterval time.Duration `yaml:"drain_interval"`
	// RetainDeadLetters оставляет окончательно неудачные команды для просмотра
	RetainDeadLetters bool `yaml:"retain_dead_letters"`
}

// RetryConfig configures backoff between attempts of one operation.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// BreakerConfig configures circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

// BroadcastConfig configures cross-process messaging. Empty Dir keeps
// messages inside the process.
type BroadcastConfig struct {
	Dir string `yaml:"dir"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ServerConfig configures the reference server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	DBPath          string        `yaml:"db_path"`
	JWTSecret       string        `yaml:"jwt_secret"`
	AuthSecret      string        `yaml:"auth_secret"` // общий ключ выдачи токенов
	TokenTTL        time.Duration `yaml:"token_ttl"`
	RateLimit       int           `yaml:"rate_limit"` // запросов в минуту на IP
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns configuration with all defaults filled in.
func Default() *Config {
	return &Config{
		DBPath:    "dealsync-client.db",
		ServerURL: "http://localhost:8080",
		Cache: CacheConfig{
			DefaultTTL:    5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Store: StoreConfig{
			SweepInterval: 10 * time.Minute,
			OpenTimeout:   time.Second,
		},
		Queue: QueueConfig{
			MaxAttempts:   5,
			DrainInterval: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			Jitter:      0.25,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeout:     30 * time.Second,
			CallTimeout:      10 * time.Second,
			HalfOpenMaxCalls: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			DBPath:          "dealsync-server.db",
			TokenTTL:        24 * time.Hour,
			RateLimit:       600,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is not an error: defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %q: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that numeric settings are usable.
func (c *Config) Validate() error {
	switch {
	case c.Queue.MaxAttempts < 1:
		return fmt.Errorf("queue.max_attempts must be positive, got %d", c.Queue.MaxAttempts)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	case c.Retry.Jitter < 0 || c.Retry.Jitter >= 1:
		return fmt.Errorf("retry.jitter must be in [0, 1), got %v", c.Retry.Jitter)
	case c.Breaker.FailureThreshold < 1 || c.Breaker.SuccessThreshold < 1:
		return errors.New("breaker thresholds must be positive")
	case c.Breaker.HalfOpenMaxCalls < 1:
		return fmt.Errorf("breaker.half_open_max_calls must be positive, got %d", c.Breaker.HalfOpenMaxCalls)
	case c.Store.MaxBytes < 0:
		return fmt.Errorf("store.max_bytes must not be negative, got %d", c.Store.MaxBytes)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv переопределяет значения из переменных окружения DEALSYNC_*
func (c *Config) applyEnv(lookup lookupFunc) error {
	strVars := map[string]*string{
		"DEALSYNC_DB_PATH":        &c.DBPath,
		"DEALSYNC_SERVER_URL":     &c.ServerURL,
		"DEALSYNC_TENANT_ID":      &c.TenantID,
		"DEALSYNC_BROADCAST_DIR":  &c.Broadcast.Dir,
		"DEALSYNC_LOG_LEVEL":      &c.Log.Level,
		"DEALSYNC_LOG_FORMAT":     &c.Log.Format,
		"DEALSYNC_SERVER_ADDR":    &c.Server.Addr,
		"DEALSYNC_SERVER_DB_PATH": &c.Server.DBPath,
		"DEALSYNC_JWT_SECRET":     &c.Server.JWTSecret,
		"DEALSYNC_AUTH_SECRET":    &c.Server.AuthSecret,
	}
	for name, dst := range strVars {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	durVars := map[string]*time.Duration{
		"DEALSYNC_CACHE_TTL":      &c.Cache.DefaultTTL,
		"DEALSYNC_DRAIN_INTERVAL": &c.Queue.DrainInterval,
		"DEALSYNC_CALL_TIMEOUT":   &c.Breaker.CallTimeout,
		"DEALSYNC_RESET_TIMEOUT":  &c.Breaker.ResetTimeout,
	}
	for name, dst := range durVars {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = d
	}

	intVars := map[string]*int{
		"DEALSYNC_QUEUE_MAX_ATTEMPTS": &c.Queue.MaxAttempts,
		"DEALSYNC_RETRY_MAX_ATTEMPTS": &c.Retry.MaxAttempts,
	}
	for name, dst := range intVars {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = n
	}

	if v, ok := lookup("DEALSYNC_QUEUE_RETAIN_DEAD_LETTERS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse DEALSYNC_QUEUE_RETAIN_DEAD_LETTERS: %w", err)
		}
		c.Queue.RetainDeadLetters = b
	}

	if v, ok := lookup("DEALSYNC_STORE_MAX_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse DEALSYNC_STORE_MAX_BYTES: %w", err)
		}
		c.Store.MaxBytes = n
	}

	return nil
}
