// Package bootstrap connects the configured stores and builds the services
// shared by the API server, the CLI and the cloud function.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quote-tracker/internal/config"
	"quote-tracker/internal/repository"
	"quote-tracker/internal/repository/firestore"
	"quote-tracker/internal/repository/memory"
	"quote-tracker/internal/service"
	"quote-tracker/internal/storage"
)

type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *sqlx.DB
	Redis    *redis.Client
	Repos    *repository.Repositories
	Objects  storage.ObjectStore
	Services *service.Services

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log}

	if err := app.openStores(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := app.openObjects(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	redisClient, err := config.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, summary cache disabled and notice claims kept in process")
	} else {
		app.Redis = redisClient
		app.closers = append(app.closers, redisClient.Close)
	}

	app.Services = service.NewServices(app.Repos, app.Redis, app.Objects, cfg, log)
	return app, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch a.Config.StoreDriver {
	case config.StoreDriverMemory:
		a.Repos = memory.New().Repositories()
		a.Log.Warn().Msg("using in-memory store, data is lost on restart")
		return nil

	case config.StoreDriverPostgres, config.StoreDriverFirestore:
		db, err := config.NewPostgresDB(ctx, a.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		a.Repos = repository.NewRepositories(db, a.Config.DatabaseURL)

		if a.Config.StoreDriver == config.StoreDriverFirestore {
			// Users, sessions and the inbox stay in Postgres.
			client, err := config.NewFirestoreClient(ctx, a.Config)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, client.Close)

			events := firestore.NewEventRepository(client)
			a.Repos.Quote = firestore.NewQuoteRepository(client)
			a.Repos.Event = events
			a.Repos.Watcher, _ = events.(repository.EventWatcher)
		}
		return nil
	}
	return fmt.Errorf("unknown STORE_DRIVER %q", a.Config.StoreDriver)
}

func (a *App) openObjects(ctx context.Context) error {
	switch a.Config.ObjectStore {
	case config.ObjectStoreMemory:
		a.Objects = storage.NewMemoryStore()
		return nil

	case config.ObjectStoreGCS:
		client, err := config.NewGCSClient(ctx, a.Config)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.Objects = storage.NewGCSStore(client, a.Config.GCSBucket)
		return nil

	case config.ObjectStoreMinIO:
		client, err := config.NewMinIOClient(ctx, a.Config, a.Log)
		if err != nil {
			return fmt.Errorf("failed to connect to MinIO: %w", err)
		}
		a.Objects = storage.NewMinIOStore(client, a.Config)
		return nil
	}
	return fmt.Errorf("unknown OBJECT_STORE %q", a.Config.ObjectStore)
}

// Close waits for in-flight notifications and releases every connection.
func (a *App) Close() error {
	if a.Services != nil {
		a.Services.Dispatcher.Wait()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
