package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/stockkeeper/pkg/config"
	"github.com/example/stockkeeper/pkg/discovery"
	"github.com/example/stockkeeper/pkg/logging"
	"github.com/example/stockkeeper/pkg/repository"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML config file",
		Value:   "config/config.yaml",
		EnvVars: []string{"STOCKKEEPER_CONFIG"},
	}

	return &cli.App{
		Name:  "stockkeeper",
		Usage: "inventory and order service",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "advertise-host",
						Usage: "host registered in etcd when listening on all interfaces",
					},
				},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create or update the database schema",
				Flags:  []cli.Flag{configFlag},
				Action: migrate,
			},
		},
	}
}

func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.With(zap.String("service", cfg.Server.Name)), nil
}

func migrate(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := repository.OpenMySQL(&cfg.MySQL, logger.Named("gorm"))
	if err != nil {
		return err
	}
	defer repository.Close(db)

	if err := repository.Migrate(db); err != nil {
		return err
	}
	logger.Info("Schema migrated", zap.String("database", cfg.MySQL.Database))
	return nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, b, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, db, b)
	if err != nil {
		_ = repository.Close(db)
		return err
	}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			logger.Warn("Failed to close backends", zap.Error(err))
		}
	}()

	srv := a.gateway.Server()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server",
			zap.String("address", srv.Addr),
			zap.String("version", cfg.Server.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	sd, instance := register(gctx, cfg, c.String("advertise-host"), srv.Addr, logger)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
		defer cancel()

		if sd != nil {
			if err := sd.Deregister(shutdownCtx, instance); err != nil {
				logger.Warn("Failed to deregister service", zap.Error(err))
			}
			_ = sd.Close()
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// register announces the instance in etcd when enabled. A failure is logged and the service
// keeps running without discovery.
func register(ctx context.Context, cfg *config.Config, advertiseHost, addr string, logger *zap.Logger) (*discovery.ServiceDiscovery, *discovery.ServiceInstance) {
	if !cfg.Etcd.Enabled {
		return nil, nil
	}
	if advertiseHost == "" {
		advertiseHost, _ = os.Hostname()
	}

	instance, err := discovery.NewInstance(cfg.Server.Name, cfg.Server.Version, addr, advertiseHost)
	if err != nil {
		logger.Warn("Invalid service address, skipping registration", zap.Error(err))
		return nil, nil
	}

	sd, err := discovery.NewServiceDiscovery(&cfg.Etcd, logger)
	if err != nil {
		logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		return nil, nil
	}
	if err := sd.Register(ctx, instance); err != nil {
		logger.Warn("Failed to register service", zap.Error(err))
		_ = sd.Close()
		return nil, nil
	}
	return sd, instance
}
