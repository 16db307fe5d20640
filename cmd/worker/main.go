// Package main runs the background worker: expired poll sweeps and results
// snapshot archiving.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/polly-app/backend/config"
	"github.com/polly-app/backend/internal/polls"
	"github.com/polly-app/backend/internal/worker"
	"github.com/polly-app/backend/pkg/database"
	"github.com/polly-app/backend/pkg/queue"
	"github.com/polly-app/backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ResultsBucket:        cfg.AWS.ResultsBucket,
		Endpoint:             cfg.AWS.Endpoint,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	rounding, err := polls.ParseRounding(cfg.Tally.Rounding)
	if err != nil {
		logger.Fatal("tally rounding", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	pollSvc := polls.NewService(polls.NewRepository(pool), rounding, logger)
	pollSvc.SetTallyCache(polls.NewRedisTallyCache(rdb.Client, cfg.Tally.CacheTTL))
	pollSvc.SetSnapshotQueue(jobQueue)

	processor := worker.NewSnapshotProcessor(pollSvc, s3Client, jobQueue, logger)
	sweepInterval := cfg.Sweep.Interval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	sweeper := polls.NewSweeper(pollSvc, rdb, sweepInterval, cfg.Sweep.LockTTL, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go sweeper.Run(workerCtx)
	logger.Info("worker started", zap.Duration("sweep_interval", sweepInterval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
