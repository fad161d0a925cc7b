package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notimo/notimo-api/internal/config"
	"github.com/notimo/notimo-api/internal/handler"
	"github.com/notimo/notimo-api/internal/infra/blob"
	"github.com/notimo/notimo-api/internal/infra/cache"
	"github.com/notimo/notimo-api/internal/infra/observability"
	"github.com/notimo/notimo-api/internal/infra/resilience"
	"github.com/notimo/notimo-api/internal/infra/sqlite"
	"github.com/notimo/notimo-api/internal/port"
	"github.com/notimo/notimo-api/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("env", cfg.Env),
		zap.String("database_path", cfg.DatabasePath),
		zap.String("blob_backend", cfg.BlobBackend),
		zap.String("default_currency", cfg.DefaultCurrency),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
		zap.Duration("jwt_refresh_ttl", cfg.JWTRefreshTTL),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "notimo-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Database ---
	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Blob store ---
	var blobs port.BlobStore
	mediaRoot := ""
	switch cfg.BlobBackend {
	case config.BlobGCS:
		cb := resilience.NewCircuitBreaker("gcs")
		gcs, err := blob.NewGCSStore(context.Background(), cfg.GCSBucket, cfg.GCSCredentialsFile, cb, resilienceCfg)
		if err != nil {
			logger.Fatal("failed to create GCS client", zap.Error(err))
		}
		defer gcs.Close()
		blobs = gcs
		logger.Info("using GCS blob backend", zap.String("bucket", cfg.GCSBucket))
	default:
		local, err := blob.NewLocalStore(cfg.MediaRoot, cfg.MediaBaseURL)
		if err != nil {
			logger.Fatal("failed to create media root", zap.Error(err))
		}
		blobs = local
		mediaRoot = local.Root()
		logger.Info("using local blob backend", zap.String("media_root", mediaRoot))
	}

	// --- Cache ---
	loginAttempts := cache.New[int](cfg.LoginLockWindow)
	defer loginAttempts.Close()

	// --- Services ---
	categorySvc := service.NewCategoryService(sqlite.NewCategoryStore(db), logger)
	if cfg.SeedCategories {
		n, err := categorySvc.Seed(context.Background())
		if err != nil {
			logger.Fatal("failed to seed categories", zap.Error(err))
		}
		logger.Info("predefined categories seeded", zap.Int("added", n))
	}

	txStore := sqlite.NewTransactionStore(db)
	transactionSvc := service.NewTransactionService(txStore, categorySvc, blobs, resilienceCfg, cfg.DefaultCurrency, metrics, logger)
	statsSvc := service.NewStatisticsService(txStore, cfg.DefaultCurrency, metrics, logger)

	var welcome service.Welcomer
	if cfg.WelcomeTransaction {
		welcome = transactionSvc
	}
	authSvc := service.NewAuthService(sqlite.NewUserStore(db), loginAttempts, welcome, service.AuthOptions{
		JWTSecret:        cfg.JWTSecret,
		AccessTTL:        cfg.JWTAccessTTL,
		RefreshTTL:       cfg.JWTRefreshTTL,
		MaxLoginAttempts: cfg.MaxLoginAttempts,
	}, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Auth:         authSvc,
		Categories:   categorySvc,
		Transactions: transactionSvc,
		Statistics:   statsSvc,
		Dashboard:    service.NewDashboardService(statsSvc, transactionSvc),
		Photos:       service.NewPhotoService(txStore, blobs, resilience.NewBulkhead(cfg.MaxConcurrency), metrics, logger),
	}, handler.RouterConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		MediaRoot:          mediaRoot,
		DB:                 db,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
