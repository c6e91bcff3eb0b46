package core

import (
	"fmt"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr         string `koanf:"addr" mapstructure:"addr" yaml:"addr"`
	MaxBodyBytes int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver" yaml:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn" yaml:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug" yaml:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout" yaml:"ping_timeout"`
}

type DownstreamConfig struct {
	BaseURL   string        `koanf:"base_url" mapstructure:"base_url" yaml:"base_url"`
	Timeout   time.Duration `koanf:"timeout" mapstructure:"timeout" yaml:"timeout"`
	AuthToken string        `koanf:"auth_token" mapstructure:"auth_token" yaml:"auth_token"`
}

type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold" mapstructure:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeout     time.Duration `koanf:"reset_timeout" mapstructure:"reset_timeout" yaml:"reset_timeout"`
	HalfOpenTrials   int           `koanf:"half_open_trials" mapstructure:"half_open_trials" yaml:"half_open_trials"`
}

type RetryConfig struct {
	MaxRetries int             `koanf:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	Interval   time.Duration   `koanf:"interval" mapstructure:"interval" yaml:"interval"`
	BatchSize  int             `koanf:"batch_size" mapstructure:"batch_size" yaml:"batch_size"`
	StaleAfter time.Duration   `koanf:"stale_after" mapstructure:"stale_after" yaml:"stale_after"`
	Schedule   []time.Duration `koanf:"schedule" mapstructure:"schedule" yaml:"schedule"`
}

type DispatcherConfig struct {
	Workers   int `koanf:"workers" mapstructure:"workers" yaml:"workers"`
	QueueSize int `koanf:"queue_size" mapstructure:"queue_size" yaml:"queue_size"`
}

type IdempotencyConfig struct {
	HashKey string `koanf:"hash_key" mapstructure:"hash_key" yaml:"hash_key"`
}

type AlertsConfig struct {
	RedisURL       string `koanf:"redis_url" mapstructure:"redis_url" yaml:"redis_url"`
	RedisChannel   string `koanf:"redis_channel" mapstructure:"redis_channel" yaml:"redis_channel"`
	AMQPURL        string `koanf:"amqp_url" mapstructure:"amqp_url" yaml:"amqp_url"`
	AMQPExchange   string `koanf:"amqp_exchange" mapstructure:"amqp_exchange" yaml:"amqp_exchange"`
	AMQPRoutingKey string `koanf:"amqp_routing_key" mapstructure:"amqp_routing_key" yaml:"amqp_routing_key"`
}

type CacheConfig struct {
	BranchTTL time.Duration `koanf:"branch_ttl" mapstructure:"branch_ttl" yaml:"branch_ttl"`
}

type Config struct {
	ServiceName     string                           `koanf:"service_name" mapstructure:"service_name" yaml:"service_name"`
	HTTP            HTTPConfig                       `koanf:"http" mapstructure:"http" yaml:"http"`
	Database        DatabaseConfig                   `koanf:"database" mapstructure:"database" yaml:"database"`
	Downstream      DownstreamConfig                 `koanf:"downstream" mapstructure:"downstream" yaml:"downstream"`
	Breaker         BreakerConfig                    `koanf:"breaker" mapstructure:"breaker" yaml:"breaker"`
	Retry           RetryConfig                      `koanf:"retry" mapstructure:"retry" yaml:"retry"`
	Dispatcher      DispatcherConfig                 `koanf:"dispatcher" mapstructure:"dispatcher" yaml:"dispatcher"`
	Idempotency     IdempotencyConfig                `koanf:"idempotency" mapstructure:"idempotency" yaml:"idempotency"`
	Providers       map[string]ProviderAdapterConfig `koanf:"providers" mapstructure:"providers" yaml:"providers"`
	Alerts          AlertsConfig                     `koanf:"alerts" mapstructure:"alerts" yaml:"alerts"`
	Cache           CacheConfig                      `koanf:"cache" mapstructure:"cache" yaml:"cache"`
	SnowflakeNode   int64                            `koanf:"snowflake_node" mapstructure:"snowflake_node" yaml:"snowflake_node"`
	ResolverTimeout time.Duration                    `koanf:"resolver_timeout" mapstructure:"resolver_timeout" yaml:"resolver_timeout"`
}

// DefaultRetrySchedule is indexed by retry count and clamped to its last entry.
func DefaultRetrySchedule() []time.Duration {
	return []time.Duration{
		time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		30 * time.Minute,
		time.Hour,
		2 * time.Hour,
		6 * time.Hour,
		12 * time.Hour,
		24 * time.Hour,
		24 * time.Hour,
	}
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "order-hub",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			DSN:         "file:order-hub.db?cache=shared&_foreign_keys=on",
			PingTimeout: 5 * time.Second,
		},
		Downstream: DownstreamConfig{
			Timeout: 10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenTrials:   1,
		},
		Retry: RetryConfig{
			MaxRetries: DefaultMaxRetries,
			Interval:   30 * time.Second,
			BatchSize:  100,
			StaleAfter: 5 * time.Minute,
			Schedule:   DefaultRetrySchedule(),
		},
		Dispatcher: DispatcherConfig{
			Workers:   4,
			QueueSize: 256,
		},
		Idempotency: IdempotencyConfig{
			HashKey: "order-hub",
		},
		Providers: map[string]ProviderAdapterConfig{},
		Alerts: AlertsConfig{
			RedisChannel:   "order-hub.alerts",
			AMQPRoutingKey: "order-hub.alerts",
		},
		Cache: CacheConfig{
			BranchTTL: 5 * time.Minute,
		},
		SnowflakeNode:   1,
		ResolverTimeout: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("core: breaker.failure_threshold must be positive")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("core: breaker.reset_timeout must be positive")
	}
	if c.Breaker.HalfOpenTrials <= 0 {
		return fmt.Errorf("core: breaker.half_open_trials must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("core: retry.max_retries must not be negative")
	}
	if c.Retry.BatchSize <= 0 {
		return fmt.Errorf("core: retry.batch_size must be positive")
	}
	if c.Retry.Interval <= 0 {
		return fmt.Errorf("core: retry.interval must be positive")
	}
	for _, delay := range c.Retry.Schedule {
		if delay <= 0 {
			return fmt.Errorf("core: retry.schedule entries must be positive")
		}
	}
	if c.Downstream.Timeout <= 0 {
		return fmt.Errorf("core: downstream.timeout must be positive")
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return fmt.Errorf("core: snowflake_node must be within 0..1023")
	}
	for code, provider := range c.Providers {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("core: provider code is required")
		}
		for _, secret := range provider.Secrets {
			if strings.TrimSpace(secret) == "" {
				return fmt.Errorf("core: provider %q has an empty signing secret", code)
			}
		}
		if len(provider.Secrets) == 0 && !provider.AllowUnsigned {
			return fmt.Errorf("core: provider %q requires at least one signing secret", code)
		}
		if provider.RateLimit.PerSecond < 0 || provider.RateLimit.Burst < 0 {
			return fmt.Errorf("core: provider %q rate_limit must not be negative", code)
		}
	}
	return nil
}

// ProviderConfig returns the configuration for code with the code filled in.
func (c Config) ProviderConfig(code string) (ProviderAdapterConfig, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	for key, provider := range c.Providers {
		if strings.ToLower(strings.TrimSpace(key)) != code {
			continue
		}
		provider.Provider = code
		provider.Secrets = append([]string(nil), provider.Secrets...)
		provider.SignatureHeaders = append([]string(nil), provider.SignatureHeaders...)
		return provider, true
	}
	return ProviderAdapterConfig{}, false
}
