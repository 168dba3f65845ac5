// Package config loads and validates the alert core's configuration
// surface: the §6.5 tuning knobs for every component (C1-C7), the
// deployment profile that picks the Rule repository's storage backend,
// and the statically configured Source/Destination lists. Grounded on
// the teacher's spf13/viper-backed internal/config/config.go, trimmed
// of the fields (Redis-as-lock, JWT auth, webhook CORS) that belong to
// the teacher's own HTTP surface rather than this core.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/holmesproxy/alert-core/internal/cache"
	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/enrichment"
	"github.com/holmesproxy/alert-core/internal/fanout"
	"github.com/holmesproxy/alert-core/internal/fetcher"
	"github.com/holmesproxy/alert-core/internal/grouping"
	"github.com/holmesproxy/alert-core/internal/investigator"
	"github.com/holmesproxy/alert-core/internal/poller"
)

// Config is the root configuration object, unmarshaled from YAML plus
// ALERTCORE_*-prefixed environment overrides.
type Config struct {
	Profile DeploymentProfile `mapstructure:"profile"`
	Storage StorageConfig     `mapstructure:"storage"`

	Core         CoreConfig         `mapstructure:"core"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Investigator InvestigatorConfig `mapstructure:"investigator"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`

	Sources      []SourceConfig      `mapstructure:"sources"`
	Destinations []DestinationConfig `mapstructure:"destinations"`
}

// DeploymentProfile picks the Rule repository's storage backend (§SPEC_FULL
// DOMAIN STACK). Alerts and Groups stay process-local under both profiles
// per spec.md's Non-goals; only the learned Rule catalogue persists.
type DeploymentProfile string

const (
	// ProfileLite persists Rules to an embedded SQLite file. No external
	// services required.
	ProfileLite DeploymentProfile = "lite"
	// ProfileStandard persists Rules to Postgres.
	ProfileStandard DeploymentProfile = "standard"
)

// StorageConfig configures the Rule repository backend.
type StorageConfig struct {
	// SQLitePath is the embedded database file used under ProfileLite.
	SQLitePath string `mapstructure:"sqlite_path"`
	// PostgresDSN is the connection string used under ProfileStandard.
	PostgresDSN     string        `mapstructure:"postgres_dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// CoreConfig is the §6.5 configuration surface plus the destination POST
// timeout named in §5.
type CoreConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	EnrichWorkers      int           `mapstructure:"enrich_workers"`
	EnrichQueueCap     int           `mapstructure:"enrich_queue_cap"`
	EnrichTimeout      time.Duration `mapstructure:"enrich_timeout"`
	EnrichOutcomeTTL   time.Duration `mapstructure:"enrich_outcome_ttl"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	MaxAlertsPerSource int           `mapstructure:"max_alerts_per_source"`
	VerifyFirstN       int           `mapstructure:"verify_first_n"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	DestinationTimeout time.Duration `mapstructure:"destination_timeout"`
	ShutdownGrace      time.Duration `mapstructure:"shutdown_grace"`

	// PollerInitialBackoff/PollerMaxBackoff tune C3's per-Source backoff
	// (§4.3: "doubling from 1s to a cap, default 5 min").
	PollerInitialBackoff time.Duration `mapstructure:"poller_initial_backoff"`
	PollerMaxBackoff     time.Duration `mapstructure:"poller_max_backoff"`

	// FanoutInitialBackoff/FanoutMaxBackoff tune C7's retry backoff
	// (§4.7: "1s, 2s, 4s, ..., cap 60s").
	FanoutInitialBackoff  time.Duration `mapstructure:"fanout_initial_backoff"`
	FanoutMaxBackoff      time.Duration `mapstructure:"fanout_max_backoff"`
	FanoutFailureBuffer   int           `mapstructure:"fanout_failure_buffer"`
	GroupInductionMembers int           `mapstructure:"group_induction_members"`
	RuleFastPathCacheSize int           `mapstructure:"rule_fast_path_cache_size"`
}

// ServerConfig holds the two HTTP surfaces the core exposes: C4's
// webhook ingress and the read-only admin API (internal/api).
type ServerConfig struct {
	WebhookAddr  string        `mapstructure:"webhook_addr"`
	AdminAddr    string        `mapstructure:"admin_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// BreakerConfig mirrors investigator.BreakerConfig with mapstructure tags.
type BreakerConfig struct {
	MaxFailures      int           `mapstructure:"max_failures"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	TimeWindow       time.Duration `mapstructure:"time_window"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// InvestigatorConfig configures the HTTP client talking to the external
// Investigator (§6.3).
type InvestigatorConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

// CacheConfig configures the Redis-backed enrichment outcome cache
// (EnrichQueue consults it before re-submitting a failed enrichment).
type CacheConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// MetricsConfig configures the Prometheus surface.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// SourceConfig statically declares one Upstream (§4.3, §6.1).
type SourceConfig struct {
	ID        string             `mapstructure:"id"`
	URL       string             `mapstructure:"url"`
	Transport core.TransportKind `mapstructure:"transport"`
}

// DestinationConfig statically declares one fan-out target (§6.4).
type DestinationConfig struct {
	Name    string               `mapstructure:"name"`
	Kind    core.DestinationKind `mapstructure:"kind"`
	URL     string               `mapstructure:"url"`
	Headers map[string]string    `mapstructure:"headers"`
}

// LoadConfig reads configPath (if non-empty) as YAML, layers
// ALERTCORE_*-prefixed environment overrides on top, and validates the
// result.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("alertcore")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profile", "lite")
	v.SetDefault("storage.sqlite_path", "/data/alert-core-rules.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_conn_lifetime", "1h")
	v.SetDefault("storage.connect_timeout", "10s")

	v.SetDefault("core.poll_interval", "30s")
	v.SetDefault("core.enrich_workers", 4)
	v.SetDefault("core.enrich_queue_cap", 1024)
	v.SetDefault("core.enrich_timeout", "90s")
	v.SetDefault("core.enrich_outcome_ttl", "1h")
	v.SetDefault("core.fetch_timeout", "10s")
	v.SetDefault("core.max_alerts_per_source", 500)
	v.SetDefault("core.verify_first_n", 5)
	v.SetDefault("core.max_attempts", 5)
	v.SetDefault("core.destination_timeout", "15s")
	v.SetDefault("core.shutdown_grace", "10s")
	v.SetDefault("core.poller_initial_backoff", "1s")
	v.SetDefault("core.poller_max_backoff", "5m")
	v.SetDefault("core.fanout_initial_backoff", "1s")
	v.SetDefault("core.fanout_max_backoff", "1m")
	v.SetDefault("core.fanout_failure_buffer", 100)
	v.SetDefault("core.group_induction_members", 3)
	v.SetDefault("core.rule_fast_path_cache_size", 4096)

	v.SetDefault("server.webhook_addr", ":8080")
	v.SetDefault("server.admin_addr", ":8081")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("investigator.model", "openai/gpt-4o")
	v.SetDefault("investigator.timeout", "30s")
	v.SetDefault("investigator.max_retries", 2)
	v.SetDefault("investigator.retry_delay", "1s")
	v.SetDefault("investigator.breaker.max_failures", 5)
	v.SetDefault("investigator.breaker.reset_timeout", "30s")
	v.SetDefault("investigator.breaker.failure_threshold", 0.5)
	v.SetDefault("investigator.breaker.time_window", "60s")
	v.SetDefault("investigator.breaker.half_open_max_calls", 1)

	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.dial_timeout", "5s")
	v.SetDefault("cache.read_timeout", "3s")
	v.SetDefault("cache.write_timeout", "3s")
	v.SetDefault("cache.max_retries", 3)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "alert_core")
}

// Validate checks cross-field invariants the mapstructure tags alone
// can't express.
func (c *Config) Validate() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid profile: %q (must be %q or %q)", c.Profile, ProfileLite, ProfileStandard)
	}
	switch c.Profile {
	case ProfileLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("lite profile requires storage.sqlite_path")
		}
	case ProfileStandard:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("standard profile requires storage.postgres_dsn")
		}
	}

	if c.Core.EnrichWorkers <= 0 {
		return fmt.Errorf("core.enrich_workers must be > 0")
	}
	if c.Core.EnrichQueueCap <= 0 {
		return fmt.Errorf("core.enrich_queue_cap must be > 0")
	}
	if c.Core.MaxAttempts <= 0 {
		return fmt.Errorf("core.max_attempts must be > 0")
	}
	if c.Core.VerifyFirstN <= 0 {
		return fmt.Errorf("core.verify_first_n must be > 0")
	}

	seen := make(map[string]struct{}, len(c.Destinations))
	for _, d := range c.Destinations {
		if d.Name == "" {
			return fmt.Errorf("destination entry missing name")
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("duplicate destination name: %s", d.Name)
		}
		seen[d.Name] = struct{}{}
		switch d.Kind {
		case core.DestinationChat, core.DestinationRelay, core.DestinationWebhook:
		default:
			return fmt.Errorf("destination %s: unrecognized kind %q", d.Name, d.Kind)
		}
	}

	return nil
}

// IsLiteProfile reports whether the Rule repository uses embedded SQLite.
func (c *Config) IsLiteProfile() bool { return c.Profile == ProfileLite }

// IsStandardProfile reports whether the Rule repository uses Postgres.
func (c *Config) IsStandardProfile() bool { return c.Profile == ProfileStandard }

// ToPollerConfig projects the relevant fields into poller.Config.
func (c *Config) ToPollerConfig(sources []core.Source) poller.Config {
	return poller.Config{
		PollInterval:   c.Core.PollInterval,
		InitialBackoff: c.Core.PollerInitialBackoff,
		MaxBackoff:     c.Core.PollerMaxBackoff,
		StaticSources:  sources,
		Filter: fetcher.Filter{
			OnlyFiring: true,
			MaxAlerts:  c.Core.MaxAlertsPerSource,
		},
	}
}

// ToEnrichmentConfig projects the relevant fields into enrichment.Config.
func (c *Config) ToEnrichmentConfig() enrichment.Config {
	return enrichment.Config{
		Workers:     c.Core.EnrichWorkers,
		QueueCap:    c.Core.EnrichQueueCap,
		TaskTimeout: c.Core.EnrichTimeout,
		OutcomeTTL:  c.Core.EnrichOutcomeTTL,
	}
}

// ToGrouperConfig projects the relevant fields into grouping.Config.
func (c *Config) ToGrouperConfig() grouping.Config {
	return grouping.Config{
		InductionThreshold: c.Core.GroupInductionMembers,
		PromotionThreshold: c.Core.VerifyFirstN,
		FastPathCacheSize:  c.Core.RuleFastPathCacheSize,
	}
}

// ToFanoutConfig projects the relevant fields into fanout.Config.
func (c *Config) ToFanoutConfig() fanout.Config {
	return fanout.Config{
		MaxAttempts:       c.Core.MaxAttempts,
		InitialBackoff:    c.Core.FanoutInitialBackoff,
		MaxBackoff:        c.Core.FanoutMaxBackoff,
		FailureBufferSize: c.Core.FanoutFailureBuffer,
	}
}

// ToCacheConfig projects the relevant fields into cache.Config.
func (c *Config) ToCacheConfig() cache.Config {
	return cache.Config{
		Addr:         c.Cache.Addr,
		Password:     c.Cache.Password,
		DB:           c.Cache.DB,
		PoolSize:     c.Cache.PoolSize,
		DialTimeout:  c.Cache.DialTimeout,
		ReadTimeout:  c.Cache.ReadTimeout,
		WriteTimeout: c.Cache.WriteTimeout,
		MaxRetries:   c.Cache.MaxRetries,
	}
}

// ToInvestigatorConfig projects the relevant fields into investigator.Config.
func (c *Config) ToInvestigatorConfig() investigator.Config {
	b := c.Investigator.Breaker
	return investigator.Config{
		BaseURL:    c.Investigator.BaseURL,
		APIKey:     c.Investigator.APIKey,
		Model:      c.Investigator.Model,
		Timeout:    c.Investigator.Timeout,
		MaxRetries: c.Investigator.MaxRetries,
		RetryDelay: c.Investigator.RetryDelay,
		Breaker: investigator.BreakerConfig{
			MaxFailures:      b.MaxFailures,
			ResetTimeout:     b.ResetTimeout,
			FailureThreshold: b.FailureThreshold,
			TimeWindow:       b.TimeWindow,
			HalfOpenMaxCalls: b.HalfOpenMaxCalls,
		},
	}
}
