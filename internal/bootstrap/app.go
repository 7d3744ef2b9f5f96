// Package bootstrap assembles the application: configuration, logging,
// telemetry, storage, and every background component, started in
// dependency order and stopped in reverse.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swapsmith/internal/aggregator"
	"swapsmith/internal/core"
	"swapsmith/internal/dca"
	"swapsmith/internal/infrastructure/health"
	"swapsmith/internal/infrastructure/metrics"
	"swapsmith/internal/limitorder"
	"swapsmith/internal/logging"
	"swapsmith/internal/monitor"
	"swapsmith/internal/notify"
	"swapsmith/internal/price"
	"swapsmith/internal/server"
	"swapsmith/internal/storage"
	"swapsmith/pkg/telemetry"
)

// App holds the wired components.
type App struct {
	Cfg    *Config
	Logger core.ILogger

	telemetry *telemetry.Telemetry
	store     *storage.Store
	client    *aggregator.Client
	notifier  *notify.Notifier
	monitor   *monitor.Monitor
	scheduler *dca.Scheduler
	worker    *limitorder.Worker
	refresher *price.Refresher
	facade    *server.Server
	health    *health.Manager
	metrics   *metrics.Server
}

// NewApp bootstraps all dependencies from a config file.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tel, err := telemetry.Setup("swapsmith")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := storage.New(ctx, storage.Config{
		URL:            string(cfg.Database.URL),
		MaxConns:       cfg.Database.PoolMax,
		IdleTimeout:    time.Duration(cfg.Database.IdleTimeoutSecs) * time.Second,
		AcquireTimeout: time.Duration(cfg.Database.AcquireSecs) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	client := aggregator.NewClient(aggregator.Config{
		BaseURL:     cfg.Aggregator.BaseURL,
		APIKey:      string(cfg.Aggregator.APIKey),
		AffiliateID: cfg.Aggregator.AffiliateID,
		Timeout:     cfg.Aggregator.Timeout(),
		MaxRPS:      cfg.Aggregator.MaxRPS,
	}, logger)

	notifier := notify.New(logger)
	if token := string(cfg.Notify.TelegramBotToken); token != "" {
		notifier.AddChannel(notify.NewTelegramChannel(token, cfg.Notify.TelegramChatID))
	}
	if hook := string(cfg.Notify.SlackWebhookURL); hook != "" {
		notifier.AddChannel(notify.NewSlackChannel(hook))
	}

	mon := monitor.New(monitor.Config{
		TickInterval:      cfg.Monitor.TickInterval(),
		MaxConcurrent:     cfg.Monitor.MaxConcurrent,
		ReconcileSchedule: cfg.Monitor.ReconcileSchedule,
	}, client, store, logger)
	mon.Subscribe(notifier.OrderListener())

	scheduler := dca.New(dca.Config{
		TickInterval:      cfg.DCA.TickInterval(),
		RetryDelay:        cfg.DCA.RetryDelay(),
		MaxProcessingTime: cfg.DCA.MaxProcessingTime(),
	}, client, store, store, mon, logger)

	worker := limitorder.New(limitorder.Config{
		TickInterval: cfg.Limit.TickInterval(),
		MaxStaleness: cfg.Limit.MaxStaleness(),
		MaxRetries:   cfg.Limit.MaxRetries,
	}, client, store, store, store, mon, notifier, logger)

	refresher := price.New(price.Config{
		RefreshInterval: cfg.Price.RefreshInterval(),
		SnapshotTTL:     cfg.Limit.MaxStaleness(),
		Assets:          cfg.Price.Assets,
	}, client, store, logger)

	verifier := server.NewVerifier(server.VerifierConfig{
		Issuer:      cfg.Auth.TokenIssuer,
		JWKSURL:     cfg.Auth.JWKSURL,
		HS256Secret: string(cfg.Auth.HS256Secret),
	}, logger)

	publicCfg, err := cfg.PublicClientConfig()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("public config: %w", err)
	}

	facade := server.New(server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PublicConfig:   publicCfg,
	}, store, client, mon, verifier, logger)

	hm := health.NewManager(logger)
	hm.Register("database", store.CheckHealth)

	var ms *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		ms = metrics.NewServer(cfg.Telemetry.MetricsPort, hm, logger)
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		telemetry: tel,
		store:     store,
		client:    client,
		notifier:  notifier,
		monitor:   mon,
		scheduler: scheduler,
		worker:    worker,
		refresher: refresher,
		facade:    facade,
		health:    hm,
		metrics:   ms,
	}, nil
}

// Start brings components up in dependency order. The monitor rebuilds
// its polling set from watched_orders before producers start.
func (a *App) Start(ctx context.Context) error {
	if a.metrics != nil {
		a.metrics.Start()
	}

	if err := a.monitor.LoadPending(ctx); err != nil {
		return fmt.Errorf("load pending orders: %w", err)
	}
	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	if err := a.refresher.Start(ctx); err != nil {
		return fmt.Errorf("start price refresher: %w", err)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start dca scheduler: %w", err)
	}
	if err := a.worker.Start(ctx); err != nil {
		return fmt.Errorf("start limit worker: %w", err)
	}
	if err := a.facade.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	a.Logger.Info("Application started")
	return nil
}

// Stop shuts components down in reverse order: the facade stops taking
// requests first, the store closes last.
func (a *App) Stop() {
	if err := a.facade.Stop(); err != nil {
		a.Logger.Error("Failed to stop http server", "error", err)
	}
	if err := a.worker.Stop(); err != nil {
		a.Logger.Error("Failed to stop limit worker", "error", err)
	}
	if err := a.scheduler.Stop(); err != nil {
		a.Logger.Error("Failed to stop dca scheduler", "error", err)
	}
	if err := a.refresher.Stop(); err != nil {
		a.Logger.Error("Failed to stop price refresher", "error", err)
	}
	if err := a.monitor.Stop(); err != nil {
		a.Logger.Error("Failed to stop monitor", "error", err)
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Stop(ctx); err != nil {
			a.Logger.Error("Failed to stop metrics server", "error", err)
		}
		cancel()
	}
	a.client.Close()
	a.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.Logger.Error("Failed to shut down telemetry", "error", err)
	}
	if zl, ok := a.Logger.(*logging.ZapLogger); ok {
		_ = zl.Sync()
	}

	a.Logger.Info("Application stopped")
}

// Run starts the application and blocks until a termination signal.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.Logger.Info("Shutdown signal received")
	a.Stop()
	return nil
}
