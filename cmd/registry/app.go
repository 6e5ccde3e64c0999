package main

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-customer-registry/pkg/api"
	"github.com/illmade-knight/go-customer-registry/pkg/cache"
	"github.com/illmade-knight/go-customer-registry/pkg/config"
	"github.com/illmade-knight/go-customer-registry/pkg/customercache"
	"github.com/illmade-knight/go-customer-registry/pkg/events"
	"github.com/illmade-knight/go-customer-registry/pkg/microservice"
	"github.com/illmade-knight/go-customer-registry/pkg/repository"
	"github.com/illmade-knight/go-customer-registry/pkg/service"
	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// app is the assembled registry. closers run in reverse order on Close.
type app struct {
	server  *microservice.BaseServer
	manager *customercache.Manager
	events  *events.CustomerEvents
	closers []func() error
	logger  zerolog.Logger
}

// newApp builds every component from cfg. On error, anything already opened is closed.
func newApp(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger zerolog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	repo, err := a.buildRepository(ctx, cfg, clock)
	if err != nil {
		return nil, err
	}
	store, err := a.buildStore(ctx, cfg, clock)
	if err != nil {
		return nil, err
	}
	a.manager = customercache.New(repo, store, logger, customercache.WithPolicy(cfg.Cache.Policy))

	publisher, err := a.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.events = events.NewCustomerEvents(publisher, clock, logger)

	svc := service.NewCustomerService(a.manager, a.events, clock, logger)
	a.server = microservice.NewBaseServer(logger, cfg.HTTPPort)
	api.NewCustomerHandler(a.manager, svc, logger).Register(a.server.Mux())
	return a, nil
}

func (a *app) buildRepository(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (repository.CustomerRepository, error) {
	switch cfg.Database.Driver {
	case config.DatabaseMemory:
		a.logger.Warn().Msg("Using the in-memory repository; customers are lost on restart.")
		return repository.NewInMemoryRepository(clock), nil
	case config.DatabaseFirestore:
		client, err := firestore.NewClient(ctx, cfg.Database.Firestore.ProjectID)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeNetwork, "failed to create firestore client")
		}
		a.closers = append(a.closers, client.Close)
		return repository.NewFirestoreRepository(&cfg.Database.Firestore, client, clock, a.logger)
	default:
		repo, err := repository.NewSQLRepository(ctx, cfg.Database.SQL(), clock, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	}
}

func (a *app) buildStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (cache.Store[[]types.Customer], error) {
	if cfg.Cache.Driver == config.CacheRedis {
		store, err := cache.NewRedisStore[[]types.Customer](ctx, &cfg.Cache.Redis, clock, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
	return cache.NewMemoryStore[[]types.Customer](cfg.Cache.MemoryConfig, clock), nil
}

func (a *app) buildPublisher(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	if !cfg.Events.Enabled {
		return events.NopPublisher{}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "failed to create pubsub client")
	}
	a.closers = append(a.closers, client.Close)
	return events.NewGooglePublisher(ctx, client, cfg.Events.TopicID, a.logger)
}

// Shutdown stops the HTTP server, flushes pending events and releases clients.
func (a *app) Shutdown(ctx context.Context) error {
	var firstErr error
	if a.server != nil {
		firstErr = a.server.Shutdown(ctx)
	}
	if a.events != nil {
		if err := a.events.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.Close()
	return firstErr
}

// Close releases clients in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Error closing resource.")
		}
	}
	a.closers = nil
}

const shutdownTimeout = 15 * time.Second
