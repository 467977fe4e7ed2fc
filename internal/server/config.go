// Package server provides configuration helpers that define runtime defaults,
// validation, YAML loading and environment overrides for the relay.
package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddress  = "127.0.0.1:3000"
	defaultQueueCapacity  = 64
	defaultMaxMessageSize = 64 * 1024
	defaultMetricsPath    = "/metrics"
	defaultWriteTimeout   = 15 * time.Second

	// writeTimeoutMargin is added on top of LockTimeout+SendTimeout so the
	// response can still be written after the longest allowed dispatch.
	writeTimeoutMargin = 5 * time.Second
)

// RateLimitConfig defines the per-client intake rate limit. Either value
// being zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LogConfig selects log verbosity and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config holds the relay settings.
//
// LockTimeout bounds how long a request waits for exclusive access to the
// message server and SendTimeout bounds how long a dispatch waits for room
// in the delivery channel. Zero means wait indefinitely. Because dispatch
// runs under exclusive access, a full queue with no send timeout stalls
// every request queued behind the lock.
//
// WriteTimeout is the HTTP write deadline. It never cuts off a dispatch that
// is still allowed to wait; see EffectiveWriteTimeout.
type Config struct {
	ListenAddress     string          `yaml:"listen_address"`
	QueueCapacity     int             `yaml:"queue_capacity"`
	LockTimeout       time.Duration   `yaml:"lock_timeout"`
	SendTimeout       time.Duration   `yaml:"send_timeout"`
	WriteTimeout      time.Duration   `yaml:"write_timeout"`
	MaxMessageSize    int64           `yaml:"max_message_size"`
	StrictStatusCodes bool            `yaml:"strict_status_codes"`
	AllowedOrigins    []string        `yaml:"allowed_origins"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	Log               LogConfig       `yaml:"log"`
	Metrics           MetricsConfig   `yaml:"metrics"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress:  defaultListenAddress,
		QueueCapacity:  defaultQueueCapacity,
		MaxMessageSize: defaultMaxMessageSize,
		WriteTimeout:   defaultWriteTimeout,
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    defaultMetricsPath,
		},
	}
}

func sanitizeConfig(cfg *Config) {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from defaults plus RELAY_* environment
// variables.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	ApplyEnvOverrides(&cfg)
	sanitizeConfig(&cfg)
	return &cfg
}

// LoadConfig reads a YAML file on top of the defaults, applies environment
// overrides and validates the result. Fields missing from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyEnvOverrides(&cfg)
	sanitizeConfig(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ListenAddress) == "" {
		errs = append(errs, errors.New("listen_address must not be empty"))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue_capacity must be >= 0, got %d", c.QueueCapacity))
	}
	if c.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("lock_timeout must be >= 0, got %s", c.LockTimeout))
	}
	if c.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("send_timeout must be >= 0, got %s", c.SendTimeout))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("write_timeout must be >= 0, got %s", c.WriteTimeout))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("max_message_size must be > 0, got %d", c.MaxMessageSize))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_second must be >= 0, got %v", c.RateLimit.RequestsPerSecond))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.burst must be >= 0, got %d", c.RateLimit.Burst))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

// EffectiveWriteTimeout returns the HTTP write deadline to serve with.
// It is zero (no deadline) when LockTimeout or SendTimeout is unbounded, and
// otherwise at least LockTimeout+SendTimeout plus a margin, so a message that
// was delivered always gets its "Message received" answer.
func (c *Config) EffectiveWriteTimeout() time.Duration {
	if c.LockTimeout == 0 || c.SendTimeout == 0 {
		return 0
	}
	return max(c.WriteTimeout, c.LockTimeout+c.SendTimeout+writeTimeoutMargin)
}

// ApplyEnvOverrides applies RELAY_* environment variables to cfg.
// Unparseable values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("RELAY_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.QueueCapacity = n
		}
	}
	if v := os.Getenv("RELAY_LOCK_TIMEOUT"); v != "" {
		cfg.LockTimeout = parseDuration(v, cfg.LockTimeout)
	}
	if v := os.Getenv("RELAY_SEND_TIMEOUT"); v != "" {
		cfg.SendTimeout = parseDuration(v, cfg.SendTimeout)
	}
	if v := os.Getenv("RELAY_WRITE_TIMEOUT"); v != "" {
		cfg.WriteTimeout = parseDuration(v, cfg.WriteTimeout)
	}
	if v := os.Getenv("RELAY_MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxMessageSize = n
		}
	}
	if v := os.Getenv("RELAY_STRICT_STATUS_CODES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictStatusCodes = b
		}
	}
	if v := os.Getenv("RELAY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseOrigins(v)
	}
	if v := os.Getenv("RELAY_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimit.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("RELAY_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RELAY_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	return defaultValue
}
