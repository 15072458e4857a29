package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relister/backend/internal/application/core"
	"github.com/relister/backend/internal/application/health"
	syncapp "github.com/relister/backend/internal/application/sync"
	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/listing"
	"github.com/relister/backend/internal/infrastructure/browser"
	"github.com/relister/backend/internal/infrastructure/cache"
	"github.com/relister/backend/internal/infrastructure/config"
	"github.com/relister/backend/internal/infrastructure/executor"
	"github.com/relister/backend/internal/infrastructure/governor"
	"github.com/relister/backend/internal/infrastructure/logger"
	"github.com/relister/backend/internal/infrastructure/persistence"
	"github.com/relister/backend/internal/infrastructure/scheduler"
	"github.com/relister/backend/internal/infrastructure/storage"
	"github.com/relister/backend/internal/infrastructure/telemetry"
	"github.com/relister/backend/internal/infrastructure/vault"
	"github.com/relister/backend/internal/interfaces/http/handler"
	"github.com/relister/backend/internal/interfaces/http/middleware"
	"github.com/relister/backend/internal/interfaces/http/router"
)

//	@title			Relister Backend API
//	@version		1.0
//	@description	Marketplace account orchestration and listing sync backend

//	@host		localhost:8080
//	@BasePath	/api/v1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Relister Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Repositories
	accountRepo := persistence.NewGormAccountRepository(db.DB)
	jobRepo := persistence.NewGormJobRepository(db.DB)
	listingRepo := persistence.NewGormListingRepository(db.DB)
	conflictRepo := persistence.NewGormConflictRepository(db.DB)

	// Metrics
	meterProvider, err := telemetry.NewMeterProvider(rootCtx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	metrics, err := telemetry.NewOrchestrationMetrics(meterProvider.Meter("relister"), log)
	if err != nil {
		log.Fatal("Failed to create metric set", zap.Error(err))
	}

	// Session vault
	if cfg.Vault.Key == "" {
		log.Fatal("Vault sealing key is not configured (vault.key)")
	}
	vaultKey, err := vault.DecodeKey(cfg.Vault.Key)
	if err != nil {
		log.Fatal("Failed to decode vault key", zap.Error(err))
	}
	sessionVault, err := vault.New(vaultKey, cfg.Vault.Dir)
	if err != nil {
		log.Fatal("Failed to open session vault", zap.Error(err))
	}

	// Dedup store (Redis when enabled, in-memory otherwise)
	dedupStore, err := cache.NewDedupStoreFactory(cfg.Redis, cache.WithLogger(log)).CreateStore()
	if err != nil {
		log.Fatal("Failed to create dedup store", zap.Error(err))
	}
	defer func() {
		if err := dedupStore.Close(); err != nil {
			log.Error("Error closing dedup store", zap.Error(err))
		}
	}()

	// Account health registry
	policy := account.HealthPolicy{
		SuccessDelta:        cfg.Health.SuccessDelta,
		SoftFailureDelta:    cfg.Health.SoftFailureDelta,
		RateLimitDelta:      cfg.Health.RateLimitDelta,
		AbuseDelta:          cfg.Health.AbuseDelta,
		ScoreFloor:          cfg.Health.ScoreFloor,
		ScoreCeiling:        cfg.Health.ScoreCeiling,
		UpgradeThreshold:    cfg.Health.UpgradeThreshold,
		UpgradeCooldown:     cfg.Health.UpgradeCooldown,
		SoftFailureLimit:    cfg.Health.SoftFailureLimit,
		AbuseWindow:         cfg.Health.AbuseWindow,
		AbuseWindowLimit:    cfg.Health.AbuseWindowLimit,
		RateLimitQuarantine: cfg.Health.RateLimitQuarantine,
		AbuseQuarantine:     cfg.Health.AbuseQuarantine,
	}
	registry, err := health.NewRegistry(accountRepo, policy, log,
		health.WithQuarantineRecorder(metrics),
	)
	if err != nil {
		log.Fatal("Failed to create health registry", zap.Error(err))
	}
	if err := registry.Load(rootCtx); err != nil {
		log.Fatal("Failed to load account pool", zap.Error(err))
	}

	// Rate governor
	gov, err := governor.New(governor.Config{
		AccountCapacity: cfg.Governor.AccountCapacity,
		AccountRefill:   cfg.Governor.AccountRefill,
		GlobalCapacity:  cfg.Governor.GlobalCapacity,
		GlobalRefill:    cfg.Governor.GlobalRefill,
	})
	if err != nil {
		log.Fatal("Failed to create rate governor", zap.Error(err))
	}

	// Image store for listing photos; optional, publish works without it
	var performerOpts []browser.PerformerOption
	if cfg.Storage.Bucket != "" {
		imageStore, err := storage.NewS3ImageStore(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create image store", zap.Error(err))
		}
		if err := imageStore.EnsureBucket(rootCtx); err != nil {
			log.Warn("Image bucket check failed", zap.Error(err))
		}
		performerOpts = append(performerOpts, browser.WithImageSource(imageStore))
	}

	// Browser performer
	performer, err := browser.NewChromedpPerformer(&browser.ChromedpConfig{
		BaseURL:        cfg.Browser.MarketplaceURL,
		DefaultTimeout: cfg.Browser.NavTimeout,
		RemoteURL:      cfg.Browser.RemoteURL,
		Headless:       cfg.Browser.Headless,
		NoSandbox:      cfg.Browser.NoSandbox,
		Logger:         log,
	}, performerOpts...)
	if err != nil {
		log.Fatal("Failed to create browser performer", zap.Error(err))
	}

	// Action executor
	exec, err := executor.New(executor.Config{
		MinDelay:     cfg.Executor.MinActionDelay,
		MaxDelay:     cfg.Executor.MaxActionDelay,
		Jitter:       cfg.Executor.JitterFraction,
		Timeout:      cfg.Executor.ActionTimeout,
		ActionWindow: cfg.Governor.ActionWindow,
	}, performer, sessionVault, registry, listingRepo, log,
		executor.WithMetrics(metrics),
	)
	if err != nil {
		log.Fatal("Failed to create executor", zap.Error(err))
	}

	// Job scheduler
	sched, err := scheduler.New(scheduler.Config{
		Workers:        cfg.Scheduler.Workers,
		QueueDepth:     cfg.Scheduler.QueueDepth,
		MaxRetries:     cfg.Scheduler.MaxRetries,
		RetryBaseDelay: cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:  cfg.Scheduler.RetryMaxDelay,
		PollInterval:   cfg.Scheduler.PollInterval,
		DedupTTL:       cfg.Scheduler.DedupTTL,
		MaxHistory:     cfg.Scheduler.HistorySize,
	}, jobRepo, registry, gov, exec, dedupStore, log,
		scheduler.WithMetrics(metrics),
	)
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}

	// Sync reconciler; sync-pull snapshots flow back through the scheduler
	reconciler, err := syncapp.NewReconciler(syncapp.Config{
		Interval:   cfg.Sync.Interval,
		Policy:     listing.ConflictPolicy(cfg.Sync.ConflictPolicy),
		MaxRetries: cfg.Scheduler.MaxRetries,
	}, listingRepo, conflictRepo, sched, log)
	if err != nil {
		log.Fatal("Failed to create reconciler", zap.Error(err))
	}
	sched.SetSnapshotHandler(reconciler.HandleSnapshot)

	// Background workers
	if cfg.Scheduler.Enabled {
		if err := sched.Start(rootCtx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		log.Info("Scheduler started", zap.Int("workers", cfg.Scheduler.Workers))
	} else {
		log.Warn("Scheduler disabled; jobs will queue but not run")
	}

	syncRunner := syncapp.NewRunner(reconciler, log)
	if cfg.Sync.Enabled {
		syncRunner.Start(rootCtx)
		log.Info("Sync runner started", zap.Duration("interval", cfg.Sync.Interval))
	}

	quarantineManager := health.NewQuarantineManager(registry, cfg.Quarantine.CheckInterval, log)
	quarantineManager.Start(rootCtx)

	// Core service and HTTP surface
	service := core.NewService(sched, jobRepo, listingRepo, registry, reconciler, cfg.Scheduler.MaxRetries, log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig()))
	if cfg.HTTP.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(limiter))
	}

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db))

	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(handler.NewSystemHandler()).
		Register(handler.NewJobHandler(service)).
		Register(handler.NewAccountHandler(service)).
		Register(handler.NewListingHandler(service)).
		Register(handler.NewConflictHandler(service)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown: stop intake first, then drain workers, then flush
	// account state
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	if cfg.Sync.Enabled {
		syncRunner.Stop()
	}
	quarantineManager.Stop()
	if cfg.Scheduler.Enabled {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Error("Scheduler drain incomplete", zap.Error(err))
		}
	}

	if err := registry.Flush(shutdownCtx); err != nil {
		log.Error("Failed to flush account pool", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down metrics", zap.Error(err))
	}

	rootCancel()
	log.Info("Server exited gracefully")
}

// healthHandler reports process and database liveness
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
