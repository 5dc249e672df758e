// Package main runs the live session coordinator: HTTP API, WebSocket feeds,
// the presence sweep and, when S3 is configured, the archive worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hostelcast/livesession/config"
	"github.com/hostelcast/livesession/internal/archive"
	"github.com/hostelcast/livesession/internal/auth"
	"github.com/hostelcast/livesession/internal/chat"
	"github.com/hostelcast/livesession/internal/control"
	"github.com/hostelcast/livesession/internal/media"
	"github.com/hostelcast/livesession/internal/presence"
	"github.com/hostelcast/livesession/internal/realtime"
	"github.com/hostelcast/livesession/internal/server"
	"github.com/hostelcast/livesession/internal/sessionlog"
	"github.com/hostelcast/livesession/internal/sessions"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/internal/telemetry"
	"github.com/hostelcast/livesession/pkg/database"
	"github.com/hostelcast/livesession/pkg/queue"
	"github.com/hostelcast/livesession/pkg/redis"
	"github.com/hostelcast/livesession/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.Store.Driver == config.StorePostgres || cfg.Database.URL != "" {
		pool, err = database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	var st store.Store
	if cfg.Store.Driver == config.StorePostgres {
		st = store.NewPostgresStore(pool, cfg.Store.LockTimeout)
	} else {
		st = store.NewMemoryStore(cfg.Store.LockTimeout)
	}
	logger.Info("session store ready", zap.String("driver", cfg.Store.Driver))

	var (
		rdb      *redis.Client
		hub      *realtime.Hub
		jobQueue *queue.Queue
	)
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub, cfg.Feed.BufferSize)
		jobQueue = queue.NewQueue(rdb.Client, logger)
	} else {
		hub = realtime.NewHub(logger, nil, nil, cfg.Feed.BufferSize)
	}
	hub.SetDropHandler(telemetry.FeedDropped)

	mediaMgr := media.NewManager(media.NewPionCapturer(), logger)
	defer func() {
		if err := mediaMgr.Close(); err != nil {
			logger.Warn("release media", zap.Error(err))
		}
	}()

	mgr := sessions.NewManager(st, hub, logger)
	mgr.SetMedia(mediaMgr)
	mgr.SetWelcomeMessage(cfg.Chat.WelcomeMessage)
	mgr.SetViewBaseURL(cfg.Server.PublicBaseURL)
	if jobQueue != nil {
		mgr.SetArchiver(jobQueue)
	}

	tracker := presence.NewTracker(st, hub, cfg.Presence.HeartbeatTimeout, logger)
	tracker.SetAnnounce(cfg.Presence.Announce)
	var attendance *sessionlog.Repository
	if pool != nil {
		attendance = sessionlog.NewRepository(pool)
		tracker.SetRecorder(attendance)
	}

	chatChannel := chat.NewChannel(st, hub, cfg.Chat.MaxTextLength, logger)
	synchronizer := control.NewSynchronizer(st, hub, mediaMgr, logger)

	var s3Client *storage.S3
	if cfg.AWS.ArchiveBucket != "" {
		s3Client, err = storage.NewS3(ctx, s3Config(cfg), logger)
		if err != nil {
			logger.Warn("transcript archive disabled", zap.Error(err))
			s3Client = nil
		}
	}

	deps := server.Deps{
		Store:       st,
		Hub:         hub,
		Sessions:    mgr,
		Presence:    tracker,
		Chat:        chatChannel,
		Control:     synchronizer,
		Attendance:  attendance,
		JWT:         auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours),
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		Logger:      logger,
	}
	if s3Client != nil {
		deps.Transcripts = s3Client
	}
	router := server.NewRouter(deps)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go tracker.Run(bgCtx, cfg.Presence.SweepInterval)
	logger.Info("presence sweep started", zap.Duration("interval", cfg.Presence.SweepInterval))

	if s3Client != nil && jobQueue != nil {
		go archive.NewProcessor(st, s3Client, s3Client.ArchiveBucket(), jobQueue, logger).Run(bgCtx)
		logger.Info("archive worker started", zap.String("bucket", s3Client.ArchiveBucket()))
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

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func s3Config(cfg *config.Config) storage.S3Config {
	return storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ArchiveBucket:        cfg.AWS.ArchiveBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}
