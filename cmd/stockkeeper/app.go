package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/stockkeeper/gateway"
	"github.com/example/stockkeeper/pkg/clients"
	"github.com/example/stockkeeper/pkg/config"
	"github.com/example/stockkeeper/pkg/dispatch"
	"github.com/example/stockkeeper/pkg/events"
	"github.com/example/stockkeeper/pkg/inventory"
	"github.com/example/stockkeeper/pkg/orders"
	"github.com/example/stockkeeper/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// backends holds the optional side-effect sinks. Nil fields are disabled.
type backends struct {
	cache     *repository.RedisRepository
	audit     *repository.MongoRepository
	publisher events.Publisher
}

type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	backends   backends
	dispatcher *dispatch.ActorDispatcher
	gateway    *gateway.Gateway
}

// connect opens MySQL and every enabled backend. Optional backends that fail to connect are
// logged and left disabled.
func connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gorm.DB, backends, error) {
	db, err := repository.OpenMySQL(&cfg.MySQL, logger.Named("gorm"))
	if err != nil {
		return nil, backends{}, err
	}
	if cfg.MySQL.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			_ = repository.Close(db)
			return nil, backends{}, err
		}
	}

	var b backends
	if cfg.Redis.Enabled {
		cache := repository.NewRedisRepository(&cfg.Redis, cfg.Orders.CacheTTL)
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("Failed to connect to Redis, continuing without order cache", zap.Error(err))
			_ = cache.Close()
		} else {
			b.cache = cache
		}
	}

	if cfg.MongoDB.Enabled {
		audit, err := repository.NewMongoRepository(ctx, &cfg.MongoDB)
		if err == nil {
			err = audit.Ping(ctx)
		}
		if err != nil {
			logger.Warn("Failed to connect to MongoDB, continuing without audit log", zap.Error(err))
			if audit != nil {
				_ = audit.Close(ctx)
			}
		} else {
			b.audit = audit
		}
	}

	if cfg.Kafka.Enabled {
		b.publisher = events.NewKafkaPublisher(&cfg.Kafka)
	}

	return db, b, nil
}

func newApp(cfg *config.Config, logger *zap.Logger, db *gorm.DB, b backends) (*app, error) {
	tx := repository.NewTxRunner(db, logger.Named("tx"),
		repository.WithIsolation(cfg.Orders.TxIsolation),
		repository.WithTxTimeout(cfg.Orders.TxTimeout),
		repository.WithTxAttempts(cfg.Orders.TxAttempts))

	deps := orders.CoordinatorDeps{
		Tx:             tx,
		LineValidation: cfg.Orders.LineValidation,
		Events:         b.publisher,
		Logger:         logger,
		ServiceName:    cfg.Server.Name,
	}
	if b.cache != nil {
		deps.Cache = b.cache
	}
	if b.audit != nil {
		deps.Audit = b.audit
	}

	a := &app{cfg: cfg, logger: logger, db: db, backends: b}
	if cfg.Orders.AsyncSideEffects {
		dispatcher, err := dispatch.NewActorDispatcher(logger, cfg.Orders.SideEffectTimeout)
		if err != nil {
			return nil, err
		}
		a.dispatcher = dispatcher
		deps.Dispatcher = dispatcher
	}

	coordinator, err := orders.NewCoordinator(deps)
	if err != nil {
		return nil, err
	}

	a.gateway = gateway.NewGateway(&cfg.Gateway, logger, gateway.Services{
		Products: inventory.NewService(tx, logger),
		Clients:  clients.NewService(tx, logger),
		Orders:   coordinator,
		Ready:    a.ready,
	})
	return a, nil
}

func (a *app) ready(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	return nil
}

// close drains pending side effects, then releases every backend, collecting errors.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		errs = append(errs, a.dispatcher.Close())
	}
	if a.backends.publisher != nil {
		errs = append(errs, a.backends.publisher.Close())
	}
	if a.backends.cache != nil {
		errs = append(errs, a.backends.cache.Close())
	}
	if a.backends.audit != nil {
		errs = append(errs, a.backends.audit.Close(ctx))
	}
	errs = append(errs, repository.Close(a.db))
	return errors.Join(errs...)
}
