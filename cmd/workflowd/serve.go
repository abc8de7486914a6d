package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/songzhibin97/workflow-fsm/api"
	"github.com/songzhibin97/workflow-fsm/config"
	"github.com/songzhibin97/workflow-fsm/events"
	"github.com/songzhibin97/workflow-fsm/loader"
	"github.com/songzhibin97/workflow-fsm/logging"
	"github.com/songzhibin97/workflow-fsm/metrics"
	"github.com/songzhibin97/workflow-fsm/storage"
	"github.com/songzhibin97/workflow-fsm/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	serveCmd.Flags().String("storage", "", "Storage backend: memory, redis or sqlite")
	serveCmd.Flags().String("definitions", "", "Directory of definition files to load at startup")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	overrides := map[string]*string{
		"addr":        &cfg.Addr,
		"storage":     &cfg.Storage.Backend,
		"definitions": &cfg.DefinitionsDir,
		"log-level":   &cfg.LogLevel,
	}
	for name, dst := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openStorage builds the configured backend.
func openStorage(cfg config.Config) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStorage(), nil
	case config.BackendRedis:
		r := cfg.Storage.Redis
		return storage.NewRedisStorage(storage.RedisOptions{
			Addr:         r.Addr,
			Password:     r.Password,
			DB:           r.DB,
			PoolSize:     r.PoolSize,
			MinIdleConns: r.MinIdleConns,
			IdleTimeout:  r.IdleTimeout,
			Prefix:       r.Prefix,
		})
	case config.BackendSQLite:
		return storage.NewSQLiteStorage(cfg.Storage.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// app is everything serve wires together.
type app struct {
	engine  *workflow.WorkflowEngine
	bus     *events.EventBus
	store   storage.Storage
	handler http.Handler
}

func (a *app) Close() error {
	a.engine.Stop()
	a.bus.Stop()
	return a.store.Close()
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (*app, error) {
	store, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	ids, err := workflow.NewIDGenerator(cfg.IDScheme, cfg.MachineID)
	if err != nil {
		store.Close()
		return nil, err
	}

	bus := events.NewEventBus(events.WithLogger(logger))
	bus.SubscribeFunc(events.InstanceCompleted, func(ctx context.Context, event events.Event) error {
		logger.Info("instance completed",
			"instance_id", event.InstanceID,
			"definition_id", event.DefinitionID,
			"state", event.Data["state"],
		)
		return nil
	})

	engine, err := workflow.NewWorkflowEngine(ids, store,
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics.NewRecorder(reg)),
		workflow.WithEventBus(bus),
	)
	if err != nil {
		bus.Stop()
		store.Close()
		return nil, err
	}

	a := &app{
		engine: engine,
		bus:    bus,
		store:  store,
		handler: api.NewHandler(engine,
			api.WithLogger(logger),
			api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		),
	}

	if cfg.DefinitionsDir != "" {
		if err := seedDefinitions(ctx, engine, cfg.DefinitionsDir, logger); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// seedDefinitions registers every definition file in dir. Any rejected
// definition aborts startup.
func seedDefinitions(ctx context.Context, engine *workflow.WorkflowEngine, dir string, logger *slog.Logger) error {
	defs, err := loader.LoadDir(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if _, err := engine.CreateDefinition(ctx, def); err != nil {
			return fmt.Errorf("definition %s: %w", def.ID, err)
		}
	}
	logger.Info("definitions loaded", "dir", dir, "count", len(defs))
	return nil
}

func serve(ctx context.Context, cfg config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close storage", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: a.handler,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("workflowd listening", "addr", cfg.Addr, "storage", cfg.Storage.Backend, "id_scheme", cfg.IDScheme)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", cfg.ShutdownTimeout, "err", err)
			return srv.Close()
		}
		logger.Info("workflowd stopped")
		return nil
	}
}
