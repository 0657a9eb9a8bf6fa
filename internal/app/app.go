// Package app wires the store, metric sources, notification channels,
// evaluation engine and admin API into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr-karan/promalert/internal/alerts"
	"github.com/mr-karan/promalert/internal/backends"
	"github.com/mr-karan/promalert/internal/backends/clickhouse"
	"github.com/mr-karan/promalert/internal/backends/prometheus"
	"github.com/mr-karan/promalert/internal/bus"
	"github.com/mr-karan/promalert/internal/condition"
	"github.com/mr-karan/promalert/internal/config"
	"github.com/mr-karan/promalert/internal/server"
	"github.com/mr-karan/promalert/internal/store"
	"github.com/mr-karan/promalert/pkg/logger"
	"github.com/mr-karan/promalert/pkg/models"
)

// App represents the core application context, holding dependencies and configuration.
type App struct {
	Config    *config.Config
	Store     *store.DB
	Logger    *slog.Logger
	Sources   *backends.Registry
	Manager   *alerts.Manager
	Scheduler *alerts.Scheduler
	Version   string

	server     *server.Server
	publisher  *bus.Publisher
	clickhouse *clickhouse.Source
}

// Options contains configuration needed when creating a new App instance.
type Options struct {
	ConfigPath string
	Version    string
	// Logger overrides the logger built from the logging config.
	Logger *slog.Logger
}

// New loads the configuration and builds the logger.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigPath: opts.ConfigPath})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.New(cfg.Logging.Level == "debug")
	}

	return &App{
		Config:  cfg,
		Logger:  log,
		Version: opts.Version,
	}, nil
}

// InitStore opens the store and merges persisted settings into the config.
func (a *App) InitStore(ctx context.Context) error {
	db, err := store.New(store.Options{Config: a.Config.Store, Logger: a.Logger})
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	a.Store = db

	a.Config = config.LoadRuntimeConfig(ctx, a.Config, a.Store, a.Logger)
	a.Logger.Info("runtime configuration loaded",
		"engine_enabled", a.Config.Engine.Enabled,
		"interval", a.Config.Engine.Interval,
		"workers", a.Config.Engine.Workers)
	return nil
}

// InitEngine builds the metric sources, channels and evaluation engine.
// InitStore must have been called.
func (a *App) InitEngine(ctx context.Context) error {
	if a.Store == nil {
		return errors.New("store not initialized")
	}

	a.Sources = backends.NewRegistry(a.Logger)

	promClient, err := prometheus.NewClient(prometheus.ClientOptions{
		URL:     a.Config.Prometheus.URL,
		Timeout: a.Config.Prometheus.Timeout,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize prometheus client: %w", err)
	}
	a.Sources.Register(models.DatasourcePrometheus, promClient)

	// ClickHouse is optional. A failed connection is logged and rules on
	// that datasource report errors until the next restart.
	if a.Config.ClickHouse.Addr != "" {
		ch, err := clickhouse.NewSource(clickhouse.Options{
			Addr:     a.Config.ClickHouse.Addr,
			Database: a.Config.ClickHouse.Database,
			Username: a.Config.ClickHouse.Username,
			Password: a.Config.ClickHouse.Password,
			Timeout:  a.Config.ClickHouse.Timeout,
		}, a.Logger)
		if err != nil {
			a.Logger.Warn("failed to initialize clickhouse source", "addr", a.Config.ClickHouse.Addr, "error", err)
		} else {
			a.clickhouse = ch
			a.Sources.Register(models.DatasourceClickHouse, ch)
		}
	}

	dispatcher := alerts.NewDispatcher(alerts.DispatcherOptions{
		Templates: a.Store,
		Channels: []alerts.Channel{
			alerts.NewEmailSender(alerts.EmailSenderOptions{
				Timeout:       a.Config.SMTP.Timeout,
				SkipTLSVerify: a.Config.SMTP.TLSInsecureSkipVerify,
				Logger:        a.Logger,
			}),
			alerts.NewWebhookSender(alerts.WebhookSenderOptions{
				DefaultTimeout: a.Config.HTTP.DefaultTimeout,
				Logger:         a.Logger,
			}),
			alerts.NewChatSender(alerts.ChatSenderOptions{
				Timeout: a.Config.HTTP.DefaultTimeout,
				Logger:  a.Logger,
			}),
		},
		Logger: a.Logger,
	})

	recorderOpts := alerts.RecorderOptions{Store: a.Store, Logger: a.Logger}
	if a.Config.NATS.URL != "" {
		pub, err := bus.NewPublisher(bus.Options{
			URL:     a.Config.NATS.URL,
			Subject: a.Config.NATS.Subject,
			Logger:  a.Logger,
		})
		if err != nil {
			// History is still written to the store without the bus.
			a.Logger.Warn("failed to connect to nats, history events disabled", "url", a.Config.NATS.URL, "error", err)
		} else {
			a.publisher = pub
			recorderOpts.Publisher = pub
		}
	}

	a.Manager = alerts.NewManager(alerts.Options{
		Rules:      a.Store,
		Sources:    a.Sources,
		Dispatcher: dispatcher,
		Recorder:   alerts.NewRecorder(recorderOpts),
		Conditions: condition.NewCache(),
		Logger:     a.Logger,
	})

	a.Scheduler = alerts.NewScheduler(alerts.SchedulerOptions{
		Interval:  a.Config.Engine.Interval,
		Workers:   a.Config.Engine.Workers,
		Runner:    a.Manager,
		Preflight: a.Store.Ping,
		Logger:    a.Logger,
	})
	return nil
}

// Initialize sets up every component, builds the HTTP server and starts
// the scheduler when the engine is enabled.
func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitStore(ctx); err != nil {
		return err
	}
	if err := a.InitEngine(ctx); err != nil {
		return err
	}

	a.server = server.New(server.ServerOptions{
		Config:  a.Config,
		Store:   a.Store,
		Engine:  a.Scheduler,
		Logger:  a.Logger,
		Version: a.Version,
		Context: ctx,
	})

	if a.Config.Engine.Enabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
	} else {
		a.Logger.Info("engine disabled, start it with POST /api/v1/engine/start")
	}
	return nil
}

// Start begins the application's main execution loop (starts the HTTP server).
func (a *App) Start() error {
	if a.server == nil {
		return fmt.Errorf("server not initialized")
	}
	return a.server.Start()
}

// RunOnce runs a single evaluation pass. InitEngine must have been called.
func (a *App) RunOnce(ctx context.Context) (*alerts.Report, error) {
	if a.Scheduler == nil {
		return nil, errors.New("engine not initialized")
	}
	return a.Scheduler.RunOnce(ctx)
}

// Shutdown gracefully stops all application components with timeouts.
//
//nolint:contextcheck // Shutdown receives its own context from caller (e.g., signal handler)
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	// Stop waits for the in-flight pass, so it runs before the store closes.
	if a.Scheduler != nil {
		a.Logger.Info("stopping engine")
		a.Scheduler.Stop()
	}

	if a.server != nil {
		serverCtx, serverCancel := context.WithTimeout(ctx, 5*time.Second)
		defer serverCancel()

		serverDone := make(chan error, 1)
		go func() {
			serverDone <- a.server.Shutdown(serverCtx)
		}()

		select {
		case err := <-serverDone:
			if err != nil {
				a.Logger.Error("error shutting down server", "error", err)
			}
		case <-serverCtx.Done():
			a.Logger.Warn("timeout shutting down HTTP server, continuing")
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Logger.Error("error draining nats connection", "error", err)
		}
	}

	if a.clickhouse != nil {
		if err := a.clickhouse.Close(); err != nil {
			a.Logger.Error("error closing clickhouse connection", "error", err)
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("error closing store", "error", err)
		}
	}

	a.Logger.Info("application shutdown complete")
	return nil
}
