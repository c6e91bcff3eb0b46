package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw map, mostly for tests and embedding.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults < loaded < runtime and rebuilds a
// validated Config from the merged snapshot.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig loads configuration through provider and layers runtime
// overrides on top with resolver.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setNumber := func(target map[string]any, key string, value int64) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	setSection := func(key string, section map[string]any) {
		if len(section) > 0 {
			layer[key] = section
		}
	}

	setString(layer, "service_name", cfg.ServiceName)

	httpSection := map[string]any{}
	setString(httpSection, "addr", cfg.HTTP.Addr)
	setNumber(httpSection, "max_body_bytes", cfg.HTTP.MaxBodyBytes)
	setSection("http", httpSection)

	database := map[string]any{}
	setString(database, "driver", cfg.Database.Driver)
	setString(database, "dsn", cfg.Database.DSN)
	setNumber(database, "ping_timeout", int64(cfg.Database.PingTimeout))
	if includeZero || cfg.Database.Debug {
		database["debug"] = cfg.Database.Debug
	}
	setSection("database", database)

	downstream := map[string]any{}
	setString(downstream, "base_url", cfg.Downstream.BaseURL)
	setString(downstream, "auth_token", cfg.Downstream.AuthToken)
	setNumber(downstream, "timeout", int64(cfg.Downstream.Timeout))
	setSection("downstream", downstream)

	breaker := map[string]any{}
	setNumber(breaker, "failure_threshold", int64(cfg.Breaker.FailureThreshold))
	setNumber(breaker, "reset_timeout", int64(cfg.Breaker.ResetTimeout))
	setNumber(breaker, "half_open_trials", int64(cfg.Breaker.HalfOpenTrials))
	setSection("breaker", breaker)

	retry := map[string]any{}
	setNumber(retry, "max_retries", int64(cfg.Retry.MaxRetries))
	setNumber(retry, "interval", int64(cfg.Retry.Interval))
	setNumber(retry, "batch_size", int64(cfg.Retry.BatchSize))
	setNumber(retry, "stale_after", int64(cfg.Retry.StaleAfter))
	if includeZero || len(cfg.Retry.Schedule) > 0 {
		schedule := make([]any, 0, len(cfg.Retry.Schedule))
		for _, delay := range cfg.Retry.Schedule {
			schedule = append(schedule, int64(delay))
		}
		retry["schedule"] = schedule
	}
	setSection("retry", retry)

	dispatcher := map[string]any{}
	setNumber(dispatcher, "workers", int64(cfg.Dispatcher.Workers))
	setNumber(dispatcher, "queue_size", int64(cfg.Dispatcher.QueueSize))
	setSection("dispatcher", dispatcher)

	idempotency := map[string]any{}
	setString(idempotency, "hash_key", cfg.Idempotency.HashKey)
	setSection("idempotency", idempotency)

	alerts := map[string]any{}
	setString(alerts, "redis_url", cfg.Alerts.RedisURL)
	setString(alerts, "redis_channel", cfg.Alerts.RedisChannel)
	setString(alerts, "amqp_url", cfg.Alerts.AMQPURL)
	setString(alerts, "amqp_exchange", cfg.Alerts.AMQPExchange)
	setString(alerts, "amqp_routing_key", cfg.Alerts.AMQPRoutingKey)
	setSection("alerts", alerts)

	cache := map[string]any{}
	setNumber(cache, "branch_ttl", int64(cfg.Cache.BranchTTL))
	setSection("cache", cache)

	setNumber(layer, "snowflake_node", cfg.SnowflakeNode)
	setNumber(layer, "resolver_timeout", int64(cfg.ResolverTimeout))

	if includeZero || len(cfg.Providers) > 0 {
		providers := make(map[string]any, len(cfg.Providers))
		for code, provider := range cfg.Providers {
			providers[strings.ToLower(strings.TrimSpace(code))] = map[string]any{
				"secrets":           append([]string(nil), provider.Secrets...),
				"signature_headers": append([]string(nil), provider.SignatureHeaders...),
				"allow_unsigned":    provider.AllowUnsigned,
				"rate_limit": map[string]any{
					"per_second": provider.RateLimit.PerSecond,
					"burst":      provider.RateLimit.Burst,
				},
			}
		}
		layer["providers"] = providers
	}
	return layer
}
