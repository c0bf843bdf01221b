// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names for pluggable stores.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Sources map[string]SourceConfig `mapstructure:"sources"`
	Logging LoggingConfig           `mapstructure:"logging"`
	HTTP    HTTPConfig              `mapstructure:"http"`
	Cache   BackendConfig           `mapstructure:"cache"`
	Breaker BackendConfig           `mapstructure:"breaker"`
	Redis   RedisConfig             `mapstructure:"redis"`
	Events  EventsConfig            `mapstructure:"events"`
	Worker  WorkerConfig            `mapstructure:"worker"`
	Metrics MetricsConfig           `mapstructure:"metrics"`
}

// SourceConfig holds the connection and policy settings for one platform.
type SourceConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BaseURL          string        `mapstructure:"base_url"`
	Token            string        `mapstructure:"token"`
	RateLimit        int           `mapstructure:"rate_limit"`
	RateWindow       time.Duration `mapstructure:"rate_window"`
	Limiter          string        `mapstructure:"limiter"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	Retry            RetryConfig   `mapstructure:"retry"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxTermLength    int           `mapstructure:"max_term_length"`
	Fallback         string        `mapstructure:"fallback"`
	LongTailFilter   bool          `mapstructure:"long_tail_filter"`
	TTL              TTLConfig     `mapstructure:"ttl"`

	GuildIDs             []string `mapstructure:"guild_ids"`
	Boards               []string `mapstructure:"boards"`
	MaxCandidatesPerCall int      `mapstructure:"max_candidates_per_call"`

	Options map[string]any `mapstructure:"options"`
}

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	JitterFraction float64       `mapstructure:"jitter_fraction"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
}

// TTLConfig sets cache lifetimes per operation family.
type TTLConfig struct {
	Discovery time.Duration `mapstructure:"discovery"`
	Metrics   time.Duration `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig holds the fixed headers and timeout shared by every session.
type HTTPConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// BackendConfig selects where shared state lives.
type BackendConfig struct {
	Backend string `mapstructure:"backend"`
}

// RedisConfig configures the Redis client used by redis backends and sinks.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EventsConfig tunes the structured event hub.
type EventsConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	MaxBatchEvents    int           `mapstructure:"max_batch_events"`
	MaxBatchWait      time.Duration `mapstructure:"max_batch_wait"`
	RedisStream       string        `mapstructure:"redis_stream"`
	RedisStreamMaxLen int64         `mapstructure:"redis_stream_max_len"`
}

// WorkerConfig sizes the job worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// MetricsConfig controls the Prometheus scrape endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("http.user_agent", "keyword-harvester/1.0")
	v.SetDefault("http.accept_language", "pt-BR,pt;q=0.9,en;q=0.8")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("breaker.backend", BackendMemory)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("events.redis_stream", "")
	v.SetDefault("events.redis_stream_max_len", 10000)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("metrics.address", "")

	setSourceDefaults(v, "discord", SourceDefaults{
		BaseURL:        "https://discord.com/api/v10",
		RateLimit:      50,
		MaxTermLength:  100,
		Fallback:       "last_cached",
		LongTailFilter: false,
	})
	setSourceDefaults(v, "imageboard", SourceDefaults{
		BaseURL:        "https://a.4cdn.org",
		RateLimit:      1,
		MaxTermLength:  80,
		Fallback:       "zero",
		LongTailFilter: true,
	})
	v.SetDefault("sources.imageboard.boards", []string{"v", "g"})
}

// SourceDefaults are the per-platform values that differ between sources.
type SourceDefaults struct {
	BaseURL        string
	RateLimit      int
	MaxTermLength  int
	Fallback       string
	LongTailFilter bool
}

func setSourceDefaults(v *viper.Viper, name string, d SourceDefaults) {
	prefix := "sources." + name + "."
	v.SetDefault(prefix+"enabled", true)
	v.SetDefault(prefix+"base_url", d.BaseURL)
	v.SetDefault(prefix+"token", "")
	v.SetDefault(prefix+"rate_limit", d.RateLimit)
	v.SetDefault(prefix+"rate_window", time.Second)
	v.SetDefault(prefix+"limiter", "sliding_window")
	v.SetDefault(prefix+"failure_threshold", 5)
	v.SetDefault(prefix+"reset_timeout", 60*time.Second)
	v.SetDefault(prefix+"retry.max_attempts", 3)
	v.SetDefault(prefix+"retry.base_delay", 500*time.Millisecond)
	v.SetDefault(prefix+"retry.multiplier", 2.0)
	v.SetDefault(prefix+"retry.jitter_fraction", 0.1)
	v.SetDefault(prefix+"retry.max_delay", 30*time.Second)
	v.SetDefault(prefix+"request_timeout", 10*time.Second)
	v.SetDefault(prefix+"max_term_length", d.MaxTermLength)
	v.SetDefault(prefix+"fallback", d.Fallback)
	v.SetDefault(prefix+"long_tail_filter", d.LongTailFilter)
	v.SetDefault(prefix+"ttl.discovery", 3600*time.Second)
	v.SetDefault(prefix+"ttl.metrics", 21600*time.Second)
	v.SetDefault(prefix+"max_candidates_per_call", 50)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("sources must define at least one source"))
	}
	for _, name := range c.SourceNames() {
		if err := c.Sources[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sources.%s: %w", name, err))
		}
	}
	if !validBackend(c.Cache.Backend) {
		errs = append(errs, fmt.Errorf("cache.backend must be %q or %q", BackendMemory, BackendRedis))
	}
	if !validBackend(c.Breaker.Backend) {
		errs = append(errs, fmt.Errorf("breaker.backend must be %q or %q", BackendMemory, BackendRedis))
	}
	if c.UsesRedis() && c.Redis.Address == "" {
		errs = append(errs, errors.New("redis.address must be set when a redis backend is used"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be > 0"))
	}
	if c.Worker.QueueDepth <= 0 {
		errs = append(errs, errors.New("worker.queue_depth must be > 0"))
	}
	return errors.Join(errs...)
}

// Validate checks one source block. Disabled sources are not checked.
func (s SourceConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	switch {
	case s.BaseURL == "":
		return errors.New("base_url must be set")
	case s.RateLimit <= 0:
		return errors.New("rate_limit must be > 0")
	case s.RateWindow <= 0:
		return errors.New("rate_window must be > 0")
	case s.Limiter != "" && s.Limiter != "sliding_window" && s.Limiter != "token_bucket":
		return fmt.Errorf("limiter must be sliding_window or token_bucket, got %q", s.Limiter)
	case s.FailureThreshold <= 0:
		return errors.New("failure_threshold must be > 0")
	case s.ResetTimeout <= 0:
		return errors.New("reset_timeout must be > 0")
	case s.Retry.MaxAttempts <= 0:
		return errors.New("retry.max_attempts must be > 0")
	case s.Retry.BaseDelay < 0:
		return errors.New("retry.base_delay must be >= 0")
	case s.Retry.Multiplier < 1:
		return errors.New("retry.multiplier must be >= 1")
	case s.Retry.JitterFraction < 0 || s.Retry.JitterFraction > 1:
		return errors.New("retry.jitter_fraction must be within [0, 1]")
	case s.RequestTimeout <= 0:
		return errors.New("request_timeout must be > 0")
	case s.MaxTermLength <= 0:
		return errors.New("max_term_length must be > 0")
	case s.Fallback != "last_cached" && s.Fallback != "zero":
		return fmt.Errorf("fallback must be last_cached or zero, got %q", s.Fallback)
	case s.TTL.Discovery <= 0 || s.TTL.Metrics <= 0:
		return errors.New("ttl.discovery and ttl.metrics must be > 0")
	}
	return nil
}

// SourceNames returns the configured source names in sorted order.
func (c Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UsesRedis reports whether any component needs the Redis client.
func (c Config) UsesRedis() bool {
	return c.Cache.Backend == BackendRedis || c.Breaker.Backend == BackendRedis || c.Events.RedisStream != ""
}

func validBackend(b string) bool {
	return b == BackendMemory || b == BackendRedis
}
