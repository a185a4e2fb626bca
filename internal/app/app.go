// Package app provides the main application lifecycle management for the
// repricer service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/marketops/repricer/internal/api"
	"github.com/marketops/repricer/internal/clock"
	"github.com/marketops/repricer/internal/config"
	"github.com/marketops/repricer/internal/database"
	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/marketplace"
	"github.com/marketops/repricer/internal/metrics"
	"github.com/marketops/repricer/internal/redis"
	"github.com/marketops/repricer/internal/reducer"
	"github.com/marketops/repricer/internal/router"
	"github.com/marketops/repricer/internal/strategy"
	"github.com/marketops/repricer/internal/syncer"
	"github.com/marketops/repricer/internal/token"
	"github.com/marketops/repricer/internal/worker"
)

const (
	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second

	defaultIdleTimeout = 60 * time.Second
	rateBurst          = 1
)

// App represents the repricer application with all its dependencies
type App struct {
	config      *config.Config
	logger      logger.Logger
	db          *sqlx.DB
	redisClient *goredis.Client
	tracker     *metrics.Tracker
	cycle       *reducer.Cycle
	syncer      *syncer.Syncer
	worker      *worker.Worker
	apiRouter   *api.Router
	version     string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "repricer"),
		logger.String("version", opts.Version),
	)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Redis carries only metrics; failure to reach it degrades the dashboard,
	// not the pricing path.
	var redisClient *goredis.Client
	var tracker *metrics.Tracker
	redisClient, err = redis.NewClient(cfg.Redis)
	if err != nil {
		appLogger.Warn("Redis unavailable, cycle metrics disabled", logger.Error(err))
		redisClient = nil
	} else {
		tracker = metrics.NewTracker(redisClient, appLogger)
	}

	a := &App{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		redisClient: redisClient,
		tracker:     tracker,
		version:     opts.Version,
	}
	if err := a.wire(); err != nil {
		a.closeConnections()
		return nil, err
	}
	return a, nil
}

// wire builds the service graph on top of the established connections.
func (a *App) wire() error {
	cfg := a.config
	log := a.logger

	listingRepo := database.NewListingRepository(a.db)
	strategyRepo := database.NewStrategyRepository(a.db)
	credentialRepo := database.NewCredentialRepository(a.db)
	auditRepo := database.NewAuditRepository(a.db)
	guardRepo := database.NewRunGuardRepository(a.db)
	cursorRepo := database.NewSyncCursorRepository(a.db)

	broker, err := token.NewBroker(
		cfg.Marketplace.TokenURL,
		cfg.Security.EncryptionKey,
		cfg.Marketplace.HTTPTimeout,
		log,
	)
	if err != nil {
		return fmt.Errorf("create token broker: %w", err)
	}

	// One limiter shared by both protocol clients so the combined outbound
	// rate stays under the marketplace cap.
	limiter := rate.NewLimiter(rate.Limit(cfg.Marketplace.RatePerSecond), rateBurst)
	legacyClient := marketplace.NewLegacyClient(cfg.Marketplace.LegacyURL, cfg.Marketplace.HTTPTimeout, limiter, log)
	modernClient := marketplace.NewModernClient(cfg.Marketplace.ModernURL, cfg.Marketplace.HTTPTimeout, limiter, log)

	updateRouter := router.New(legacyClient, modernClient, listingRepo, log)
	engine := strategy.NewEngine(nil, log)
	sysClock := clock.NewSystem()
	loc := cfg.BusinessLocation()

	var trackerIface metrics.MetricsTracker
	if a.tracker != nil {
		trackerIface = a.tracker
	}

	a.cycle = reducer.New(
		listingRepo,
		strategyRepo,
		credentialRepo,
		broker,
		updateRouter,
		engine,
		auditRepo,
		guardRepo,
		trackerIface,
		reducer.Config{
			Location:         loc,
			InterTenantDelay: cfg.Scheduler.InterTenantDelay,
			ErrorListCap:     cfg.Scheduler.ErrorListCap,
		},
		sysClock,
		log,
	)

	a.syncer = syncer.New(
		legacyClient,
		broker,
		listingRepo,
		cursorRepo,
		syncer.Config{
			PageSize:            cfg.Sync.PageSize,
			PageDelay:           cfg.Sync.PageDelay,
			RunBudget:           cfg.Sync.RunBudget,
			DefaultMinimumRatio: cfg.Sync.DefaultMinimumRatio,
		},
		sysClock,
		log,
	)

	a.worker = worker.New(
		a.cycle,
		a.syncer,
		credentialRepo,
		auditRepo,
		trackerIface,
		worker.Config{
			Location:         loc,
			ReductionCron:    cfg.Scheduler.ReductionCron,
			SyncCron:         cfg.Scheduler.SyncCron,
			PurgeCron:        cfg.Scheduler.PurgeCron,
			InterTenantDelay: cfg.Scheduler.InterTenantDelay,
			RetentionDays:    cfg.Sync.RetentionDays,
		},
		sysClock,
		log,
	)

	a.apiRouter = api.NewRouter(
		a.db,
		a.redisClient,
		a.cycle,
		a.syncer,
		listingRepo,
		auditRepo,
		credentialRepo,
		trackerIface,
		cfg,
		log,
	)
	return nil
}

// RunWorker starts the cron scheduler and blocks until shutdown.
func (a *App) RunWorker(ctx context.Context) error {
	if err := a.worker.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	a.waitForSignal(ctx)
	a.worker.Stop()
	return nil
}

// RunAPI starts the HTTP server and blocks until shutdown.
func (a *App) RunAPI(ctx context.Context) error {
	server := &http.Server{
		Addr:         a.config.Server.Address,
		Handler:      a.apiRouter.SetupRoutes(),
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("API server listening", logger.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	case <-signalChan(ctx):
	}

	a.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// RunServe starts both the scheduler and the HTTP server.
func (a *App) RunServe(ctx context.Context) error {
	if err := a.worker.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.worker.Stop()

	return a.RunAPI(ctx)
}

// RunCycle executes one reduction cycle in the foreground and returns its
// summary.
func (a *App) RunCycle(ctx context.Context, dryRun bool, limit int) (*reducer.Summary, error) {
	return a.cycle.Run(ctx, reducer.Options{
		DryRun:  dryRun,
		Limit:   limit,
		Trigger: domain.TriggerManual,
	})
}

func (a *App) waitForSignal(ctx context.Context) {
	<-signalChan(ctx)
	a.logger.Info("Shutting down gracefully")
}

// signalChan merges SIGINT/SIGTERM with context cancellation.
func signalChan(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
		case <-ctx.Done():
		}
		close(done)
	}()
	return done
}

// Close cleans up resources
func (a *App) Close() error {
	a.closeConnections()
	return a.logger.Sync()
}

func (a *App) closeConnections() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", logger.Error(err))
		}
	}
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}
