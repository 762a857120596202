// Package app initializes and holds the long-lived services, acting as a
// dependency injection container.
package app

import (
	"context"
	"fmt"

	pubsubapi "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/mapfold/listsync/internal/batcher"
	"github.com/mapfold/listsync/internal/clock/system"
	"github.com/mapfold/listsync/internal/config"
	"github.com/mapfold/listsync/internal/core"
	uuidgen "github.com/mapfold/listsync/internal/id/uuid"
	"github.com/mapfold/listsync/internal/identity"
	"github.com/mapfold/listsync/internal/logging"
	"github.com/mapfold/listsync/internal/metrics"
	"github.com/mapfold/listsync/internal/resolver"
	"github.com/mapfold/listsync/internal/saltstore"
	pgstore "github.com/mapfold/listsync/internal/saltstore/postgres"
	"github.com/mapfold/listsync/internal/scheduler"
	"github.com/mapfold/listsync/internal/spool"
	"github.com/mapfold/listsync/internal/transport"
	pubsubtransport "github.com/mapfold/listsync/internal/transport/pubsub"
)

// App holds the shared long-lived services: logger, salt store, telemetry
// batcher, identity hasher, and the refresh scheduler. It is initialized once
// at startup and passed to the HTTP layer.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	saltStore core.SaltStore
	batcher   *batcher.Batcher
	hasher    *identity.Hasher
	scheduler *scheduler.Scheduler

	pubsubClient *pubsubapi.Client
	closers      []func() error
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Batcher returns the telemetry event batcher.
func (a *App) Batcher() *batcher.Batcher { return a.batcher }

// Hasher returns the identity hasher.
func (a *App) Hasher() *identity.Hasher { return a.hasher }

// Scheduler returns the refresh job scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// New builds the service graph from configuration. It fails fast if any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	if err := a.initSaltStore(ctx); err != nil {
		return nil, err
	}

	a.hasher = identity.New(identity.Config{
		Salt:   cfg.Telemetry.Salt,
		Store:  a.saltStore,
		Logger: logger.Named("identity"),
	})

	local, err := a.buildLocalTransport()
	if err != nil {
		return nil, err
	}
	a.batcher = batcher.New(local, transportFactory, batcher.Config{
		BatchSize:     cfg.Telemetry.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		Enabled:       cfg.Telemetry.Enabled,
		BaseContext:   ctx,
		Logger:        logger.Named("batcher"),
		Clock:         system.New(),
	})

	if err := a.applyTransportConfig(ctx); err != nil {
		return nil, err
	}

	runner := resolver.New(a.buildRecordSource(), a.buildLookup(), resolver.Config{
		QPS:    cfg.Refresh.RateLimitQPS,
		Logger: logger.Named("resolver"),
	})
	a.scheduler = scheduler.New(runner, scheduler.Config{
		SubscriberBuffer: cfg.Refresh.SubscriberBuffer,
		BaseContext:      ctx,
		Logger:           logger.Named("scheduler"),
		Clock:            system.New(),
		IDGen:            uuidgen.NewGenerator(),
	})

	logger.Info("services initialized",
		zap.String("transport", cfg.Telemetry.Transport),
		zap.String("salt_store", cfg.SaltStore.Provider),
	)
	return a, nil
}

func (a *App) initSaltStore(ctx context.Context) error {
	switch a.cfg.SaltStore.Provider {
	case "file":
		store, err := saltstore.NewFile(a.cfg.Telemetry.DataDir)
		if err != nil {
			return fmt.Errorf("init file salt store: %w", err)
		}
		a.saltStore = store
	case "memory":
		a.saltStore = saltstore.NewMemory()
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:   a.cfg.SaltStore.DSN,
			Table: a.cfg.SaltStore.Table,
		})
		if err != nil {
			return fmt.Errorf("init postgres salt store: %w", err)
		}
		a.saltStore = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	default:
		return fmt.Errorf("unknown salt store provider: %s", a.cfg.SaltStore.Provider)
	}
	return nil
}

// buildLocalTransport wires the on-disk spool the batcher falls back to
// whenever no upload endpoint is configured.
func (a *App) buildLocalTransport() (core.Transport, error) {
	sp, err := spool.New(a.cfg.Telemetry.DataDir, spool.Config{
		MaxBytes: a.cfg.Telemetry.SpoolMaxBytes,
		MaxFiles: a.cfg.Telemetry.SpoolMaxFiles,
		Logger:   a.logger.Named("spool"),
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry spool: %w", err)
	}
	return transport.NewLocal(sp), nil
}

// applyTransportConfig points the batcher at the configured upload target.
func (a *App) applyTransportConfig(ctx context.Context) error {
	switch a.cfg.Telemetry.Transport {
	case "local":
		// Already the default.
	case "remote":
		a.batcher.ConfigureUpload(&core.TransportConfig{
			Endpoint:   a.cfg.Telemetry.Endpoint,
			Headers:    a.cfg.Telemetry.Headers,
			DistinctID: a.cfg.Telemetry.DistinctID,
			APIKey:     a.cfg.Telemetry.APIKey,
		})
	case "pubsub":
		client, err := pubsubapi.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		a.pubsubClient = client
		a.closers = append(a.closers, client.Close)
		publisher := client.Publisher(a.cfg.PubSub.TopicName)
		a.closers = append(a.closers, func() error {
			publisher.Stop()
			return nil
		})
		a.batcher.SwapTransport(pubsubtransport.New(publisher))
	default:
		return fmt.Errorf("unknown telemetry transport: %s", a.cfg.Telemetry.Transport)
	}
	return nil
}

func (a *App) buildRecordSource() resolver.RecordSource {
	return resolver.NewFileSource(a.cfg.Refresh.PendingDir)
}

func (a *App) buildLookup() resolver.Lookup {
	if a.cfg.Refresh.LookupEndpoint == "" {
		a.logger.Warn("no lookup endpoint configured, refresh jobs will leave records pending")
		return noopLookup{}
	}
	return resolver.NewHTTPLookup(a.cfg.Refresh.LookupEndpoint)
}

// noopLookup leaves every record unresolved. Used when no upstream endpoint
// is configured so refresh jobs still complete with accurate pending counts.
type noopLookup struct{}

func (noopLookup) Resolve(context.Context, resolver.Record) (bool, error) {
	return false, nil
}

func transportFactory(cfg core.TransportConfig) core.Transport {
	return transport.NewRemote(cfg)
}

// Close shuts down the services in reverse dependency order: the scheduler
// stops dispatching, the batcher drains its timer, then owned clients close.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Close()
	}
	if a.batcher != nil {
		a.batcher.Flush()
		a.batcher.Dispose()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
