package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"prepos/internal/agents"
	"prepos/internal/ai"
	"prepos/internal/analysis"
	"prepos/internal/archive"
	"prepos/internal/auth"
	"prepos/internal/config"
	"prepos/internal/db"
	"prepos/internal/handlers"
	"prepos/internal/logging"
	"prepos/internal/metrics"
	"prepos/internal/middleware"
)

func main() {
	cfg, err := config.Load(".env", "../.env")
	if err != nil {
		logging.L().Fatal("invalid configuration", zap.Error(err))
	}
	logging.Init()
	defer logging.Sync()
	log := logging.L().Named("main")
	log.Info("starting PrepOS agent service", zap.String("environment", cfg.Environment))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	database, err := db.NewDatabase(cfg.Database, logging.L())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	repo := db.NewRepository(database.DB)

	var (
		jobs        analysis.JobStore = analysis.NewMemoryJobStore()
		redisClient *db.RedisClient
	)
	if cfg.Redis.Enabled() {
		redisClient, err = db.NewRedisClient(startCtx, cfg.Redis, logging.L())
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		jobs = analysis.NewRedisJobStore(redisClient, cfg.Redis.JobTTL)
	} else {
		log.Warn("REDIS_URL not set, job state is kept in memory and lost on restart")
	}

	bucket, err := ai.NewTokenBucket(cfg.Gemini.RequestsPerMinute, cfg.Gemini.Burst)
	if err != nil {
		log.Fatal("invalid rate limit", zap.Error(err))
	}
	client := ai.NewClient(
		ai.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.BaseURL),
		bucket,
		ai.WithCallTimeout(cfg.Gemini.Timeout),
	)

	runner := agents.NewRunner(client, agents.Config{
		Models: agents.Models{
			Architect:  cfg.Gemini.ModelArchitect,
			Detective:  cfg.Gemini.ModelDetective,
			Tutor:      cfg.Gemini.ModelTutor,
			Strategist: cfg.Gemini.ModelStrategist,
			Chat:       cfg.Gemini.ModelChat,
		},
		MaxRetries: cfg.Gemini.MaxRetries,
		Exam: agents.ExamCalendar{
			ExamMonth:   time.Month(cfg.Roadmap.ExamMonth),
			ExamDay:     cfg.Roadmap.ExamDay,
			CutoffMonth: time.Month(cfg.Roadmap.CutoffMonth),
			CutoffDay:   cfg.Roadmap.CutoffDay,
		},
		History: agents.HistoryWindow{
			Milestones: cfg.Roadmap.HistoryMilestones,
			Weeks:      cfg.Roadmap.HistoryWeeks,
		},
	})

	var pipelineOpts []analysis.PipelineOption
	arch, err := archive.FromConfig(startCtx, cfg.Archive, logging.L())
	if err != nil {
		log.Fatal("failed to configure analysis archive", zap.Error(err))
	}
	if arch != nil {
		pipelineOpts = append(pipelineOpts, analysis.WithArchiver(arch))
	}
	pipeline := analysis.NewPipeline(runner, repo, jobs, pipelineOpts...)

	handlerOpts := []handlers.Option{
		handlers.WithAllowedOrigins(cfg.Server.FrontendURL),
		handlers.WithHealthCheck("database", func(context.Context) error { return database.Health() }),
	}
	if redisClient != nil {
		handlerOpts = append(handlerOpts, handlers.WithHealthCheck("redis", redisClient.Ping))
	}
	handler := handlers.NewHandler(repo, pipeline, runner, handlerOpts...)

	stop := make(chan struct{})
	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.Server.RequestsPerSec), cfg.Server.RequestBurst)
	go limiter.RunCleanup(10*time.Minute, stop)

	router := gin.New()
	router.Use(
		middleware.Recovery(logging.L()),
		middleware.RequestID(),
		middleware.Logger(logging.L(), "/metrics", "/api/health"),
		middleware.CORS(cfg.Server.FrontendURL),
		middleware.SecurityHeaders(),
		metrics.PrometheusMiddleware(),
	)
	router.GET("/metrics", metrics.PrometheusHandler())

	api := router.Group("/api", middleware.RateLimit(limiter))
	handler.RegisterRoutes(api, middleware.RequireAuth(auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)))

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	log.Info("HTTP server listening", zap.String("address", cfg.Server.Address))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal("HTTP server failed", zap.Error(err))
	case sig := <-quit:
		log.Info("starting graceful shutdown", zap.String("signal", sig.String()))
	}
	close(stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	// Let running pipelines persist their results before closing stores.
	if err := pipeline.Wait(shutdownCtx); err != nil {
		log.Warn("pipelines still running at shutdown", zap.Error(err))
	}
	log.Info("graceful shutdown complete")
}
