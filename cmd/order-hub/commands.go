package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-command"
	orderhub "github.com/goliatone/go-order-hub"
	"github.com/goliatone/go-order-hub/adapters/gocommand"
	"github.com/goliatone/go-order-hub/adapters/gojob"
	hubcommand "github.com/goliatone/go-order-hub/command"
	"github.com/goliatone/go-order-hub/core"
	"github.com/goliatone/go-order-hub/httpapi"
	hubquery "github.com/goliatone/go-order-hub/query"
)

const shutdownTimeout = 15 * time.Second

type ServeCmd struct {
	Addr        string `help:"Listen address; overrides http.addr."`
	SkipMigrate bool   `help:"Do not apply migrations on startup."`
	JobQueue    string `name:"job-queue" help:"Redis URL of a shared job queue; retry sweeps and replays then run as queued jobs instead of the in-process loop."`
	QueueName   string `name:"queue-name" help:"Key prefix of the job queue." default:"orderhub"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobQueue := strings.TrimSpace(c.JobQueue)
	opts := bootstrapOptions{migrate: !c.SkipMigrate}
	if jobQueue != "" {
		opts.hubOptions = append(opts.hubOptions, orderhub.WithoutRetryLoop())
	}
	a, err := bootstrap(ctx, g, opts)
	if err != nil {
		return err
	}
	defer a.close()

	var maintenance sync.WaitGroup
	if jobQueue != "" {
		q, client, err := gojob.NewRedisQueueFromURL(jobQueue, c.QueueName, a.cfg.Retry.StaleAfter)
		if err != nil {
			return err
		}
		defer client.Close()
		m := gojob.Maintenance{
			Queue:    q,
			Sweeper:  a.hub.Scheduler(),
			Replayer: a.hub.Pipeline(),
			Interval: a.cfg.Retry.Interval,
			Policy:   gojob.NackPolicy{MaxAttempts: 3, MaxDelay: a.cfg.Retry.Interval, DeadLetterOnMax: true},
			Observer: a.hub.Observer(),
		}
		maintenance.Add(1)
		go func() {
			defer maintenance.Done()
			if err := m.Run(ctx); err != nil {
				a.logger.Error("job queue maintenance stopped", "error", err)
			}
		}()
		a.logger.Info("retry sweeps delegated to job queue", "queue", c.QueueName)
	}

	if g.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Options{
		Receiver: a.hub.Receiver(),
		Metrics:  a.metrics.Handler(),
		Health: func(ctx context.Context) error {
			return a.client.DB().PingContext(ctx)
		},
		Breakers:     a.hub.Breakers(),
		Logger:       a.logger.Named("http"),
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	})

	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = a.cfg.HTTP.Addr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	a.hub.Start(ctx)
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("http server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}
	stop()
	maintenance.Wait()
	// The dispatcher drains in-flight events; anything left is picked up by
	// the stale sweep on the next start.
	if err := a.hub.Stop(shutdownCtx); err != nil {
		a.logger.Warn("hub stop", "error", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	a, err := bootstrap(context.Background(), g, bootstrapOptions{migrate: true, skipHub: true})
	if err != nil {
		return err
	}
	return a.close()
}

type ReplayCmd struct {
	EventID string `arg:"" name:"event-id" help:"Dead-lettered event id."`
}

func (c *ReplayCmd) Run(g *Globals) error {
	return withOperator(g, func(ctx context.Context) (any, error) {
		collector := command.NewResult[core.WebhookEvent]()
		err := gocommand.Dispatch(command.ContextWithResult(ctx, collector), hubcommand.ReplayDeadLetterMessage{EventID: c.EventID})
		if err != nil {
			return nil, err
		}
		event, _ := collector.Load()
		return event.Outcome(), nil
	})
}

type MapBranchCmd struct {
	Provider         string `arg:"" help:"Provider code."`
	ExternalBranchID string `arg:"" name:"external-branch-id" help:"Branch id as the provider sends it."`
	BranchID         string `arg:"" name:"branch-id" help:"Internal branch id."`
	CompanyID        string `help:"Internal company id."`
}

func (c *MapBranchCmd) Run(g *Globals) error {
	return withOperator(g, func(ctx context.Context) (any, error) {
		mapping := core.BranchMapping{
			Provider:         c.Provider,
			ExternalBranchID: c.ExternalBranchID,
			BranchID:         c.BranchID,
			CompanyID:        c.CompanyID,
		}
		collector := command.NewResult[core.BranchMapping]()
		if err := gocommand.Dispatch(command.ContextWithResult(ctx, collector), hubcommand.UpsertBranchMappingMessage{Mapping: mapping}); err != nil {
			return nil, err
		}
		saved, _ := collector.Load()
		return saved, nil
	})
}

type MapProductCmd struct {
	Provider          string `arg:"" help:"Provider code."`
	ExternalProductID string `arg:"" name:"external-product-id" help:"Product id as the provider sends it."`
	ProductRef        string `arg:"" name:"product-ref" help:"Internal product reference."`
}

func (c *MapProductCmd) Run(g *Globals) error {
	return withOperator(g, func(ctx context.Context) (any, error) {
		mapping := core.ProductMapping{
			Provider:          c.Provider,
			ExternalProductID: c.ExternalProductID,
			ProductRef:        c.ProductRef,
		}
		collector := command.NewResult[core.ProductMapping]()
		if err := gocommand.Dispatch(command.ContextWithResult(ctx, collector), hubcommand.UpsertProductMappingMessage{Mapping: mapping}); err != nil {
			return nil, err
		}
		saved, _ := collector.Load()
		return saved, nil
	})
}

type EventsCmd struct {
	EventID  string `arg:"" optional:"" name:"event-id" help:"Show a single event."`
	Provider string `help:"Filter by provider."`
	Status   string `help:"Filter by status."`
	Limit    int    `help:"Maximum events to list." default:"50"`
}

func (c *EventsCmd) Run(g *Globals) error {
	return withOperator(g, func(ctx context.Context) (any, error) {
		if strings.TrimSpace(c.EventID) != "" {
			event, err := gocommand.Query[hubquery.GetWebhookEventMessage, core.WebhookEvent](ctx, hubquery.GetWebhookEventMessage{EventID: c.EventID})
			if err != nil {
				return nil, err
			}
			return eventView(event), nil
		}
		events, err := gocommand.Query[hubquery.ListWebhookEventsMessage, []core.WebhookEvent](ctx, hubquery.ListWebhookEventsMessage{
			Filter: core.EventFilter{
				Provider: c.Provider,
				Status:   core.EventStatus(c.Status),
				Limit:    c.Limit,
			},
		})
		if err != nil {
			return nil, err
		}
		views := make([]map[string]any, 0, len(events))
		for _, event := range events {
			views = append(views, eventView(event))
		}
		return views, nil
	})
}

// withOperator runs fn against the configured database without serving
// traffic and prints its result as JSON.
func withOperator(g *Globals, fn func(ctx context.Context) (any, error)) error {
	ctx := context.Background()
	a, err := bootstrap(ctx, g, bootstrapOptions{skipMetrics: true})
	if err != nil {
		return err
	}
	defer a.close()

	result, err := fn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", core.ErrorCode(err), err)
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// eventView leaves out the raw payload and headers.
func eventView(event core.WebhookEvent) map[string]any {
	return map[string]any{
		"id":            event.ID,
		"provider":      event.Provider,
		"status":        event.Status,
		"retryCount":    event.RetryCount,
		"maxRetries":    event.MaxRetries,
		"correlationId": event.CorrelationID,
		"receivedAt":    event.ReceivedAt,
		"externalId":    event.ExternalEventID,
		"downstreamId":  event.DownstreamOrderID,
		"errorCode":     event.ErrorCode,
		"errorMessage":  event.ErrorMessage,
		"branchId":      event.BranchID,
		"nextRetryAt":   event.NextRetryAt,
		"processedAt":   event.ProcessedAt,
	}
}
