package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	discord, ok := cfg.Sources["discord"]
	if !ok {
		t.Fatalf("expected discord defaults, got %v", cfg.SourceNames())
	}
	if discord.RateLimit != 50 || discord.RateWindow != time.Second {
		t.Fatalf("expected 50 requests per second, got %d per %v", discord.RateLimit, discord.RateWindow)
	}
	if discord.FailureThreshold != 5 || discord.ResetTimeout != time.Minute {
		t.Fatalf("unexpected breaker defaults: %+v", discord)
	}
	if discord.Retry.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", discord.Retry.MaxAttempts)
	}
	if discord.TTL.Discovery != time.Hour || discord.TTL.Metrics != 6*time.Hour {
		t.Fatalf("unexpected ttl defaults: %+v", discord.TTL)
	}
	if discord.Fallback != "last_cached" || discord.LongTailFilter {
		t.Fatalf("unexpected discord fallback/filter: %+v", discord)
	}

	board := cfg.Sources["imageboard"]
	if board.Fallback != "zero" || !board.LongTailFilter || board.MaxTermLength != 80 {
		t.Fatalf("unexpected imageboard defaults: %+v", board)
	}
	if len(board.Boards) != 2 {
		t.Fatalf("expected default boards, got %v", board.Boards)
	}
	if cfg.Cache.Backend != BackendMemory || cfg.Breaker.Backend != BackendMemory {
		t.Fatalf("expected memory backends by default")
	}
	if cfg.UsesRedis() {
		t.Fatalf("default config should not need redis")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
cache:
  backend: redis
breaker:
  backend: redis
redis:
  address: redis:6379
  db: 2
worker:
  concurrency: 8
  queue_depth: 16
sources:
  discord:
    token: secret
    guild_ids: ["111", "222"]
    rate_limit: 10
    rate_window: 2s
    limiter: token_bucket
    retry:
      max_attempts: 5
      base_delay: 100ms
    options:
      region: br
  imageboard:
    enabled: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if !cfg.UsesRedis() || cfg.Redis.Address != "redis:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("expected redis overrides: %+v", cfg.Redis)
	}
	if cfg.Worker.Concurrency != 8 || cfg.Worker.QueueDepth != 16 {
		t.Fatalf("expected worker overrides: %+v", cfg.Worker)
	}

	discord := cfg.Sources["discord"]
	if discord.Token != "secret" || len(discord.GuildIDs) != 2 {
		t.Fatalf("expected discord overrides: %+v", discord)
	}
	if discord.RateLimit != 10 || discord.RateWindow != 2*time.Second || discord.Limiter != "token_bucket" {
		t.Fatalf("expected rate overrides: %+v", discord)
	}
	if discord.Retry.MaxAttempts != 5 || discord.Retry.BaseDelay != 100*time.Millisecond {
		t.Fatalf("expected retry overrides: %+v", discord.Retry)
	}
	if discord.Retry.Multiplier != 2 {
		t.Fatalf("expected default multiplier to survive partial override, got %v", discord.Retry.Multiplier)
	}
	if discord.Options["region"] != "br" {
		t.Fatalf("expected options to load: %+v", discord.Options)
	}
	if cfg.Sources["imageboard"].Enabled {
		t.Fatalf("expected imageboard disabled")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HARVESTER_SOURCES_DISCORD_TOKEN", "from-env")
	t.Setenv("HARVESTER_WORKER_CONCURRENCY", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Sources["discord"].Token; got != "from-env" {
		t.Fatalf("expected env token, got %q", got)
	}
	if cfg.Worker.Concurrency != 2 {
		t.Fatalf("expected env concurrency, got %d", cfg.Worker.Concurrency)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	withSource := func(mut func(*SourceConfig)) Config {
		c := base
		c.Sources = map[string]SourceConfig{}
		for k, v := range base.Sources {
			c.Sources[k] = v
		}
		s := c.Sources["discord"]
		mut(&s)
		c.Sources["discord"] = s
		return c
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"rate limit", withSource(func(s *SourceConfig) { s.RateLimit = 0 }), "sources.discord: rate_limit"},
		{"limiter", withSource(func(s *SourceConfig) { s.Limiter = "leaky" }), "limiter"},
		{"threshold", withSource(func(s *SourceConfig) { s.FailureThreshold = 0 }), "failure_threshold"},
		{"multiplier", withSource(func(s *SourceConfig) { s.Retry.Multiplier = 0.5 }), "retry.multiplier"},
		{"jitter", withSource(func(s *SourceConfig) { s.Retry.JitterFraction = 2 }), "retry.jitter_fraction"},
		{"fallback", withSource(func(s *SourceConfig) { s.Fallback = "newest" }), "fallback"},
		{"term length", withSource(func(s *SourceConfig) { s.MaxTermLength = 0 }), "max_term_length"},
		{
			name: "cache backend",
			cfg: func() Config {
				c := base
				c.Cache.Backend = "memcached"
				return c
			}(),
			want: "cache.backend",
		},
		{
			name: "redis address",
			cfg: func() Config {
				c := base
				c.Breaker.Backend = BackendRedis
				c.Redis.Address = ""
				return c
			}(),
			want: "redis.address",
		},
		{
			name: "worker concurrency",
			cfg: func() Config {
				c := base
				c.Worker.Concurrency = 0
				return c
			}(),
			want: "worker.concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	disabled := withSource(func(s *SourceConfig) {
		s.Enabled = false
		s.RateLimit = 0
	})
	if err := disabled.Validate(); err != nil {
		t.Fatalf("disabled sources should not be validated: %v", err)
	}
}
