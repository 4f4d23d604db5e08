// feedback-ai - customer feedback reply server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/feedback-ai/internal/api"
	"github.com/ashureev/feedback-ai/internal/awsconf"
	"github.com/ashureev/feedback-ai/internal/blob"
	"github.com/ashureev/feedback-ai/internal/config"
	"github.com/ashureev/feedback-ai/internal/feedback"
	"github.com/ashureev/feedback-ai/internal/gateway"
	"github.com/ashureev/feedback-ai/internal/grpchealth"
	"github.com/ashureev/feedback-ai/internal/middleware"
	"github.com/ashureev/feedback-ai/internal/pipeline"
	"github.com/ashureev/feedback-ai/internal/pricing"
	"github.com/ashureev/feedback-ai/internal/session"
	"github.com/ashureev/feedback-ai/internal/store"
	"github.com/ashureev/feedback-ai/web"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "model", cfg.Model.ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Chat log store.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// AWS clients.
	awsCfg, err := awsconf.Load(ctx, cfg.AWS, cfg.Model.MaxAttempts)
	if err != nil {
		slog.Error("Failed to load AWS configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("AWS configuration loaded", "region", awsCfg.Region, "static_credentials", cfg.HasStaticCredentials())

	gw := gateway.NewBedrock(bedrockruntime.NewFromConfig(awsCfg), gateway.BedrockConfig{
		ModelID:     cfg.Model.ID,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: &cfg.Model.Temperature,
		TopP:        &cfg.Model.TopP,
		Timeout:     cfg.Model.Timeout,
	}, logger)

	var results blob.Store
	if cfg.Results.Bucket != "" {
		results = blob.NewS3(s3.NewFromConfig(awsCfg), cfg.Results.Bucket)
		slog.Info("Batch results stored in S3", "bucket", cfg.Results.Bucket, "prefix", cfg.Results.Prefix)
	} else {
		fileStore, err := blob.NewFileStore(cfg.Results.Dir)
		if err != nil {
			slog.Error("Failed to initialize results directory", "error", err)
			os.Exit(1)
		}
		results = fileStore
		slog.Info("Batch results stored locally", "dir", cfg.Results.Dir)
	}

	classes, err := feedback.LoadClasses(cfg.ThemesPath)
	if err != nil {
		slog.Error("Failed to load theme classes", "error", err)
		os.Exit(1)
	}

	// Session store with LRU capacity and idle sweep.
	sessions := session.NewStore(
		session.WithCapacity(cfg.Session.Capacity),
		session.WithTTL(cfg.Session.TTL),
		session.WithDefaultWindow(cfg.Session.HistoryWindow),
	)
	sessions.Run(ctx, cfg.Session.SweepInterval)

	observer := func(key string, state pipeline.State) {
		logger.Debug("Pipeline state", "session_key", key, "state", state)
	}
	p := pipeline.New(gw, sessions, repo, pricing.NewFileSource(cfg.PricingPath), pipeline.Options{
		ModelID:  cfg.Model.ID,
		Logger:   logger,
		Observer: observer,
	})

	svc := feedback.NewService(p, results, feedback.Config{
		ResultsPrefix: cfg.Results.Prefix,
		Concurrency:   cfg.Batch.Concurrency,
		Window:        cfg.Session.HistoryWindow,
		Classes:       classes,
	}, logger)

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	limiter.Run(ctx, time.Minute)

	// Initialize handlers.
	handler := api.NewHandler(svc, repo, limiter, cfg)
	healthHandler := api.NewHealthHandler(repo, cfg)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)

	// Embedded demo page.
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, web.Prefix+"/", http.StatusFound)
	})
	web.Mount(r.Handle)

	if cfg.GRPCHealthPort != "" {
		hs := grpchealth.New(repo, 10*time.Second, cfg.HTTP.HealthCheckTimeout, logger)
		go func() {
			if err := hs.Serve(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Note: SSE responses stream for as long as the model does, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully", "sessions_open", sessions.Len())
}
