package main

import (
	"context"
	"errors"
	"fmt"

	orderhub "github.com/goliatone/go-order-hub"
	"github.com/goliatone/go-order-hub/adapters/gocommand"
	"github.com/goliatone/go-order-hub/adapters/gologger"
	"github.com/goliatone/go-order-hub/config"
	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/metrics"
	"github.com/goliatone/go-order-hub/migrations"
	sqlstore "github.com/goliatone/go-order-hub/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type app struct {
	cfg     core.Config
	logger  *gologger.ZapLogger
	client  *persistence.Client
	metrics *metrics.PrometheusRecorder
	hub     *orderhub.Hub
	bus     *gocommand.Bus
}

type bootstrapOptions struct {
	migrate     bool
	hubOptions  []orderhub.Option
	skipHub     bool
	skipMetrics bool
}

func bootstrap(ctx context.Context, g *Globals, opts bootstrapOptions) (*app, error) {
	logger, err := gologger.NewProductionLogger(g.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{logger: logger}

	a.cfg, err = config.Load(ctx, g.Config, core.Config{}, g.EnvFile...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load config: %w", err)
	}

	a.client, err = sqlstore.Open(a.cfg.Database, a.cfg.ServiceName)
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Info("database connected", "driver", a.cfg.Database.Driver)

	if opts.migrate {
		if err := migrations.Apply(ctx, a.client, a.cfg.Database.Driver); err != nil {
			a.close()
			return nil, err
		}
		logger.Info("migrations applied")
	}
	if opts.skipHub {
		return a, nil
	}

	stores, err := sqlstore.StoresFromClient(a.client)
	if err != nil {
		a.close()
		return nil, err
	}
	hubOpts := []orderhub.Option{
		orderhub.WithLogger(logger.Named("hub")),
		orderhub.WithSQLStores(stores),
	}
	if !opts.skipMetrics {
		a.metrics = metrics.NewPrometheusRecorder(metrics.WithRuntimeCollectors())
		hubOpts = append(hubOpts, orderhub.WithMetricsRecorder(a.metrics))
	}
	a.hub, err = orderhub.New(a.cfg, append(hubOpts, opts.hubOptions...)...)
	if err != nil {
		a.close()
		return nil, err
	}

	a.bus = gocommand.NewBus()
	if err := gocommand.RegisterOperators(a.bus, gocommand.OperatorDeps{
		Replayer: a.hub.Pipeline(),
		Mappings: a.hub.Mappings(),
		Events:   a.hub.Events(),
		Breakers: a.hub.Breakers(),
	}); err != nil {
		a.close()
		return nil, fmt.Errorf("register operator handlers: %w", err)
	}
	if err := a.bus.Initialize(); err != nil {
		a.close()
		return nil, fmt.Errorf("initialize command registry: %w", err)
	}
	return a, nil
}

func (a *app) close() error {
	if a == nil {
		return nil
	}
	var errs []error
	a.bus.Close()
	if a.hub != nil {
		if err := a.hub.Stop(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
