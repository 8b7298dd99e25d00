// Package main runs the meeting bot supervisor: the HTTP API the backend
// calls, the driver WebSocket endpoint, and the debug artifact worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-meetbot/backend/config"
	"github.com/aura-meetbot/backend/internal/adapter"
	"github.com/aura-meetbot/backend/internal/metrics"
	"github.com/aura-meetbot/backend/internal/middleware"
	"github.com/aura-meetbot/backend/internal/snapshots"
	"github.com/aura-meetbot/backend/internal/supervisor"
	"github.com/aura-meetbot/backend/internal/teamsbridge"
	"github.com/aura-meetbot/backend/internal/worker"
	"github.com/aura-meetbot/backend/pkg/queue"
	"github.com/aura-meetbot/backend/pkg/redis"
	"github.com/aura-meetbot/backend/pkg/response"
	"github.com/aura-meetbot/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	metrics.Register()

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	store := snapshots.NewRedisStore(rdb.Client, cfg.Redis.SnapshotTTL)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	var s3Client *storage.S3
	if cfg.AWS.AccessKeyID != "" || os.Getenv("AWS_PROFILE") != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			DebugBucket:          cfg.AWS.DebugBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	bridges := teamsbridge.NewRegistry(logger)
	factory := func(_ context.Context, id uuid.UUID, platform adapter.Platform) (adapter.Adapter, error) {
		switch platform {
		case adapter.PlatformTeams:
			return bridges.Create(id), nil
		case adapter.PlatformLoopback:
			return adapter.NewScripted(), nil
		default:
			return nil, fmt.Errorf("no driver available for platform %q", platform)
		}
	}

	sup := supervisor.New(cfg.Bot, cfg.Debug.RecordingPath, factory, store, jobQueue, logger)
	sessionHandler := supervisor.NewHandler(sup, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	sessionHandler.RegisterRoutes(router)
	router.GET("/driver/ws/:id", bridges.ServeDriver())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (debug recording upload to S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		processor := worker.NewDebugUploadProcessor(s3Client, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("debug upload worker started")
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sup.Shutdown(shutdownCtx)
	workerCancel()
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
