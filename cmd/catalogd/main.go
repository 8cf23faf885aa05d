package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"machine-catalog-backend/config"
	"machine-catalog-backend/internal/access"
	"machine-catalog-backend/internal/api"
	"machine-catalog-backend/internal/auth"
	"machine-catalog-backend/internal/blob"
	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/db"
	"machine-catalog-backend/internal/grid"
	"machine-catalog-backend/internal/imaging"
	"machine-catalog-backend/internal/metrics"
	"machine-catalog-backend/internal/notification"
	"machine-catalog-backend/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar().Named("catalogd")
	log.Infow("Configuration loaded", "path", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		log.Fatalw("Failed to initialize database", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		log.Fatalw("Failed to open blob storage", "driver", cfg.Blob.Driver, "error", err)
	}
	log.Infow("Blob storage ready", "driver", blobs.Driver())

	m := metrics.New()
	appStore := store.NewGormStore(gormDB, grid.Grid{Columns: cfg.Grid.Columns, Rows: cfg.Grid.Rows})

	deps := catalog.Deps{
		Store:   appStore,
		Filter:  access.NewFilter(cfg.Auth.PrivilegedRoles),
		Blobs:   blobs,
		Images:  imaging.New(cfg.Image.MaxBytes, cfg.Image.MaxSidePx),
		Metrics: m,
		Log:     log.Named("catalog"),
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore.DB(), webpushOptions, log.Named("push"), m)
		workerPool.Start(ctx)
		deps.Notifier = workerPool
	} else {
		log.Warn("VAPID keys are not configured; push notifications are disabled")
	}

	var imagesDir string
	if fs, ok := blobs.(*blob.Filesystem); ok {
		imagesDir = fs.Root()
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; every bearer token will be rejected")
	}

	router := api.NewRouter(api.RouterDeps{
		Service:   catalog.NewService(deps),
		DB:        gormDB,
		WebPush:   webpushOptions,
		Resolver:  auth.NewResolver(cfg.Auth.JWTSecret),
		Metrics:   m,
		Server:    cfg.Server,
		MaxUpload: cfg.Image.MaxBytes,
		ImagesDir: imagesDir,
		ImagesURL: cfg.Blob.BaseURL,
		Log:       log.Named("api"),
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		log.Infow("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("HTTP server ListenAndServe", "error", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("HTTP server Shutdown", "error", err)
	}

	log.Info("Server gracefully stopped")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
