// Package orderhub assembles the webhook integration hub: provider adapters,
// stores, the processing pipeline, retry scheduling and alerting.
package orderhub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-order-hub/alerts"
	"github.com/goliatone/go-order-hub/breaker"
	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/downstream"
	"github.com/goliatone/go-order-hub/ids"
	"github.com/goliatone/go-order-hub/pipeline"
	"github.com/goliatone/go-order-hub/providers"
	"github.com/goliatone/go-order-hub/ratelimit"
	"github.com/goliatone/go-order-hub/retry"
	sqlstore "github.com/goliatone/go-order-hub/store/sql"
	"github.com/goliatone/go-order-hub/webhooks"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const alertTimeout = 5 * time.Second

// MappingStore resolves and maintains branch and product mappings.
type MappingStore interface {
	core.BranchResolver
	core.ProductResolver
	core.MappingWriter
}

type Option func(*Hub)

func WithLogger(logger core.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(h *Hub) {
		h.metrics = recorder
	}
}

// WithStores replaces the in-memory event, idempotency and mapping stores.
func WithStores(events core.EventStore, idempotency core.IdempotencyStore, mappings MappingStore) Option {
	return func(h *Hub) {
		h.events = events
		h.idempotency = idempotency
		h.mappings = mappings
	}
}

// WithSQLStores uses the SQL stores and fronts branch resolution with a
// cache sized by the hub cache config.
func WithSQLStores(stores *sqlstore.Stores) Option {
	return func(h *Hub) {
		h.sqlStores = stores
	}
}

func WithDownstreamTransport(tr downstream.Transport) Option {
	return func(h *Hub) {
		h.transport = tr
	}
}

// WithAlertSink adds a sink next to the log sink and any configured brokers.
func WithAlertSink(sink core.AlertSink) Option {
	return func(h *Hub) {
		if sink != nil {
			h.extraSinks = append(h.extraSinks, sink)
		}
	}
}

func WithAdapters(adapters ...core.ProviderAdapter) Option {
	return func(h *Hub) {
		h.extraAdapters = append(h.extraAdapters, adapters...)
	}
}

// WithoutRetryLoop leaves retry sweeps to an external driver such as a job
// worker calling Scheduler().RunOnce.
func WithoutRetryLoop() Option {
	return func(h *Hub) {
		h.externalSweeps = true
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

type Hub struct {
	config   core.Config
	logger   core.Logger
	metrics  core.MetricsRecorder
	observer *core.Observer
	now      func() time.Time

	events      core.EventStore
	idempotency core.IdempotencyStore
	mappings    MappingStore
	sqlStores   *sqlstore.Stores

	transport      downstream.Transport
	extraSinks     []core.AlertSink
	extraAdapters  []core.ProviderAdapter
	externalSweeps bool

	registry   *core.ProviderAdapterRegistry
	breakers   *breaker.Registry
	forwarder  *downstream.Forwarder
	alertSink  core.AlertSink
	pipeline   *pipeline.Pipeline
	dispatcher *webhooks.AsyncDispatcher
	receiver   *webhooks.Receiver
	scheduler  *retry.Scheduler
	closers    []func() error

	mu      sync.Mutex
	started bool
}

// New validates cfg and wires every component. Nothing runs until Start.
func New(cfg core.Config, opts ...Option) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Hub{
		config: cfg,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.logger = glog.Ensure(h.logger)
	h.observer = core.NewObserver(h.logger, h.metrics)

	if err := h.buildStores(); err != nil {
		return nil, err
	}
	if err := h.buildAlerts(); err != nil {
		return nil, err
	}

	registry, err := providers.NewRegistry(h.extraAdapters...)
	if err != nil {
		h.closeAll()
		return nil, err
	}
	h.registry = registry

	settings := breaker.SettingsFromConfig(cfg.Breaker)
	settings.OnStateChange = h.onBreakerStateChange
	h.breakers = breaker.NewRegistry(settings)
	h.forwarder = downstream.NewForwarder(cfg.Downstream, h.transport, nil, h.observer)
	h.forwarder.Breaker = h.breakers.Get(h.forwarder.Target())

	h.pipeline, err = pipeline.New(h.events, h.idempotency, h.registry, h.mappings, h.forwarder,
		pipeline.WithProductResolver(h.mappings),
		pipeline.WithAlertSink(h.alertSink),
		pipeline.WithSchedule(retry.Schedule(cfg.Retry.Schedule)),
		pipeline.WithObserver(h.observer),
		pipeline.WithResolverTimeout(cfg.ResolverTimeout),
		pipeline.WithClock(h.now),
	)
	if err != nil {
		h.closeAll()
		return nil, err
	}

	h.dispatcher = webhooks.NewAsyncDispatcher(h.pipeline, cfg.Dispatcher,
		webhooks.WithDispatcherObserver(h.observer),
	)

	eventIDs, err := ids.NewSnowflake(cfg.SnowflakeNode, "evt")
	if err != nil {
		h.closeAll()
		return nil, err
	}
	h.receiver = webhooks.NewReceiver(h.registry, cfg.ProviderConfig, h.events, h.idempotency, h.dispatcher)
	h.receiver.EventIDs = eventIDs
	h.receiver.CorrelationIDs = ids.UUID{Prefix: "corr"}
	h.receiver.Deriver = webhooks.NewDedupKeyDeriver(cfg.Idempotency.HashKey)
	h.receiver.Limiter = ratelimit.FromConfig(cfg.Providers)
	h.receiver.RejectLimiter = ratelimit.FromConfig(cfg.Providers)
	h.receiver.Observer = h.observer
	h.receiver.MaxRetries = cfg.Retry.MaxRetries
	h.receiver.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	h.receiver.Now = h.now

	h.scheduler, err = retry.NewScheduler(h.events, h.pipeline, cfg.Retry,
		retry.WithSchedulerObserver(h.observer),
		retry.WithSchedulerClock(h.now),
	)
	if err != nil {
		h.closeAll()
		return nil, err
	}
	return h, nil
}

func (h *Hub) buildStores() error {
	if h.sqlStores != nil {
		cacheConfig := repositorycache.DefaultConfig()
		if h.config.Cache.BranchTTL > 0 {
			cacheConfig.TTL = h.config.Cache.BranchTTL
		}
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return fmt.Errorf("orderhub: branch cache: %w", err)
		}
		mappings, err := sqlstore.NewCachedMappingStore(h.sqlStores.Mappings, cacheService)
		if err != nil {
			return err
		}
		h.events = h.sqlStores.Events
		h.idempotency = h.sqlStores.Idempotency
		h.mappings = mappings
	}
	if h.events == nil {
		h.events = core.NewMemoryEventStore()
	}
	if h.idempotency == nil {
		h.idempotency = core.NewMemoryIdempotencyStore()
	}
	if h.mappings == nil {
		h.mappings = core.NewMemoryMappingStore()
	}
	return nil
}

// buildAlerts always logs alerts and fans out to the brokers configured in
// the alerts section.
func (h *Hub) buildAlerts() error {
	sinks := alerts.FanoutSink{alerts.NewLogSink(h.observer)}
	cfg := h.config.Alerts
	if cfg.RedisURL != "" {
		sink, client, err := alerts.NewRedisSinkFromURL(cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
		h.closers = append(h.closers, client.Close)
	}
	if cfg.AMQPURL != "" {
		sink, closeFn, err := alerts.DialAMQPSink(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			h.closeAll()
			return err
		}
		sinks = append(sinks, sink)
		h.closers = append(h.closers, closeFn)
	}
	sinks = append(sinks, h.extraSinks...)
	h.alertSink = sinks
	return nil
}

func (h *Hub) onBreakerStateChange(target string, from breaker.State, to breaker.State, snapshot breaker.Snapshot) {
	h.observer.Info(context.Background(), "breaker state changed", map[string]any{
		"target": target,
		"from":   string(from),
		"to":     string(to),
	})
	if to != breaker.StateOpen || h.alertSink == nil {
		return
	}
	alert := core.Alert{
		Kind:       core.AlertKindBreakerOpen,
		Message:    fmt.Sprintf("circuit opened for %s after %d failures", target, snapshot.FailureCount),
		Target:     target,
		OccurredAt: h.now(),
		Metadata: map[string]any{
			"failure_threshold": snapshot.FailureThreshold,
			"reset_timeout":     snapshot.ResetTimeout,
		},
	}
	// State changes fire on the forwarding goroutine, so delivery is detached.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := h.alertSink.Notify(ctx, alert); err != nil {
			h.observer.Warn(ctx, "breaker alert delivery failed", map[string]any{
				"target": target,
				"error":  err.Error(),
			})
		}
	}()
}

// Start launches the dispatcher workers and, unless disabled, the retry loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.dispatcher.Start(ctx)
	if !h.externalSweeps {
		h.scheduler.Start(ctx)
	}
	h.observer.Info(ctx, "order hub started", map[string]any{
		"providers": len(h.registry.List()),
		"target":    h.forwarder.Target(),
	})
}

// Stop halts the retry loop, drains the dispatcher within ctx and releases
// broker connections.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	started := h.started
	h.started = false
	h.mu.Unlock()

	var errs []error
	if started {
		h.scheduler.Stop()
		if err := h.dispatcher.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (h *Hub) closeAll() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

func (h *Hub) Config() core.Config                     { return h.config }
func (h *Hub) Observer() *core.Observer                { return h.observer }
func (h *Hub) Registry() *core.ProviderAdapterRegistry { return h.registry }
func (h *Hub) Receiver() *webhooks.Receiver            { return h.receiver }
func (h *Hub) Pipeline() *pipeline.Pipeline            { return h.pipeline }
func (h *Hub) Scheduler() *retry.Scheduler             { return h.scheduler }
func (h *Hub) Breakers() *breaker.Registry             { return h.breakers }
func (h *Hub) Events() core.EventStore                 { return h.events }
func (h *Hub) Idempotency() core.IdempotencyStore      { return h.idempotency }
func (h *Hub) Mappings() MappingStore                  { return h.mappings }
