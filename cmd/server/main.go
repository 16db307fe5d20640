// Package main runs the poll service HTTP API with graceful shutdown.
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
	"go.uber.org/zap/zapcore"

	"github.com/polly-app/backend/config"
	"github.com/polly-app/backend/internal/auth"
	"github.com/polly-app/backend/internal/categories"
	"github.com/polly-app/backend/internal/middleware"
	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/internal/polls"
	"github.com/polly-app/backend/pkg/database"
	"github.com/polly-app/backend/pkg/queue"
	"github.com/polly-app/backend/pkg/redis"
	"github.com/polly-app/backend/pkg/response"
	"github.com/polly-app/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var archive polls.ResultsArchive
	if cfg.AWS.ResultsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ResultsBucket:        cfg.AWS.ResultsBucket,
			Endpoint:             cfg.AWS.Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			archive = s3Client
		}
	}

	rounding, err := polls.ParseRounding(cfg.Tally.Rounding)
	if err != nil {
		logger.Fatal("tally rounding", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, cfg.Auth.AdminEmails, logger)

	// Polls
	categoryRepo := categories.NewRepository(pool)
	pollSvc := polls.NewService(polls.NewRepository(pool), rounding, logger)
	pollSvc.SetTallyCache(polls.NewRedisTallyCache(rdb.Client, cfg.Tally.CacheTTL))
	pollSvc.SetSnapshotQueue(queue.NewQueue(rdb.Client, logger))
	pollSvc.SetCategories(categoryRepo)
	sweeper := polls.NewSweeper(pollSvc, rdb, cfg.Sweep.Interval, cfg.Sweep.LockTTL, logger)
	pollHandler := polls.NewHandler(pollSvc, sweeper, archive, logger)

	// Categories
	categoryHandler := categories.NewHandler(categoryRepo, pollHandler, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Healthy(ctx); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public reads and voting; a bearer token is used when present.
	public := router.Group("")
	public.Use(middleware.OptionalJWT(jwtService))
	{
		public.GET("/polls", pollHandler.List)
		public.GET("/polls/:id", pollHandler.Get)
		public.GET("/polls/:id/results", pollHandler.Results)
		public.GET("/polls/:id/results/download", pollHandler.DownloadResults)
		public.GET("/polls/:id/eligibility", pollHandler.Eligibility)
		public.POST("/polls/:id/votes", pollHandler.Vote)
		public.GET("/polls/:id/votes", pollHandler.ListVotes)
		public.GET("/polls/:id/categories", categoryHandler.ListByPoll)
		public.GET("/categories", categoryHandler.List)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me(middleware.ContextUserID))
		api.GET("/me/polls", pollHandler.Mine)
		api.GET("/me/votes", pollHandler.MyVotes)

		// Polls (creator or admin checks happen in the handler)
		api.POST("/polls", pollHandler.Create)
		api.PATCH("/polls/:id", pollHandler.Update)
		api.DELETE("/polls/:id", pollHandler.Delete)
		api.POST("/polls/:id/publish", pollHandler.Publish)
		api.POST("/polls/:id/close", pollHandler.Close)
		api.POST("/polls/:id/categories/:categoryId", categoryHandler.Attach)
		api.DELETE("/polls/:id/categories/:categoryId", categoryHandler.Detach)
		api.DELETE("/votes/:id", pollHandler.Retract)

		// Admin
		admin := string(models.RoleAdmin)
		api.POST("/categories", middleware.RequireRole(admin), categoryHandler.Create)
		api.DELETE("/categories/:id", middleware.RequireRole(admin), categoryHandler.Delete)
		api.POST("/admin/polls/sweep", middleware.RequireRole(admin), pollHandler.Sweep)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background sweeper (closes expired polls; the Redis lock keeps it to one process per tick)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	if cfg.Sweep.Interval > 0 {
		go sweeper.Run(sweepCtx)
		logger.Info("poll sweeper started", zap.Duration("interval", cfg.Sweep.Interval))
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweepCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
