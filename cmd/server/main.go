// Package main runs the live classroom HTTP server with WebSocket and graceful shutdown.
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
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kinderly/liveclass/config"
	"github.com/kinderly/liveclass/internal/analytics"
	"github.com/kinderly/liveclass/internal/attendance"
	"github.com/kinderly/liveclass/internal/auth"
	"github.com/kinderly/liveclass/internal/classrooms"
	"github.com/kinderly/liveclass/internal/middleware"
	"github.com/kinderly/liveclass/internal/models"
	"github.com/kinderly/liveclass/internal/polls"
	"github.com/kinderly/liveclass/internal/questions"
	"github.com/kinderly/liveclass/internal/realtime"
	"github.com/kinderly/liveclass/internal/recorder"
	"github.com/kinderly/liveclass/internal/recordings"
	"github.com/kinderly/liveclass/internal/spotlight"
	"github.com/kinderly/liveclass/internal/whiteboard"
	"github.com/kinderly/liveclass/pkg/database"
	"github.com/kinderly/liveclass/pkg/metrics"
	"github.com/kinderly/liveclass/pkg/queue"
	"github.com/kinderly/liveclass/pkg/redis"
	"github.com/kinderly/liveclass/pkg/response"
	"github.com/kinderly/liveclass/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
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

	var objectStore recordings.ObjectStore
	if cfg.AWS.Region != "" && cfg.AWS.RecordingsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			objectStore = s3Client
		}
	}

	m := metrics.New()
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	hub.SetClientCountHandler(m.SetConnectedClients)

	sfu := realtime.NewSFU(logger, cfg.WebRTC.ICEUrls)
	sfu.SetScreenShareHandler(func(classroomID uuid.UUID, active bool) {
		hub.BroadcastToClassroomAndPublish(classroomID, "screen_share", gin.H{"active": active})
	})

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Classrooms
	classroomRepo := classrooms.NewRepository(pool)
	classroomHandler := classrooms.NewHandler(classroomRepo, logger)
	teacherOnly := classrooms.RequireClassroomTeacher(classroomRepo, logger)

	// Attendance: join/leave logs and live class sessions come from the hub.
	attendanceRepo := attendance.NewRepository(pool)
	tracker := attendance.NewTracker(attendanceRepo, logger)
	attendanceHandler := attendance.NewHandler(attendanceRepo, classroomRepo, attendance.Policy{
		LateAfter:       time.Duration(cfg.Attendance.LateAfterMinutes) * time.Minute,
		MinPresentShare: cfg.Attendance.MinPresentShare,
	}, logger)
	analyticsHandler := analytics.NewHandler(analytics.NewRepository(pool), logger)

	// Whiteboard
	boardStore := whiteboard.NewRedisStore(rdb, time.Duration(cfg.Whiteboard.SnapshotTTLHours)*time.Hour)
	boards := whiteboard.NewService(cfg.Whiteboard.MaxStrokes, boardStore, hub, logger)
	boards.Register(hub)
	boardHandler := whiteboard.NewHandler(boards)

	// Spotlight: notifiers that reach Redis or Postgres run off the session lock, each on its own queue
	// so a slow database never delays what the class sees. Metrics stay inline.
	spotlightRepo := spotlight.NewRepository(pool)
	history := spotlight.HistoryNotifier(spotlightRepo, logger)
	spotlightHistory := spotlight.NewAsyncNotifier(spotlight.NotifierFunc(func(classroomID uuid.UUID, ev spotlight.Event, snap spotlight.Snapshot) {
		history.Notify(classroomID, ev, snap)
		tracker.CountSpotlightEvent(classroomID)
	}), cfg.Spotlight.NotifyBuffer, logger)
	spotlightBroadcast := spotlight.NewAsyncNotifier(spotlight.BroadcastNotifier(hub), cfg.Spotlight.NotifyBuffer, logger)
	spotlightRegistry := spotlight.NewRegistry(logger,
		spotlightBroadcast,
		spotlightHistory,
		spotlight.MetricsNotifier(m),
	)
	spotlightRegistry.SetCountHandler(m.SetSpotlightSessions)

	// A student who leaves gives up their spotlight slot; an empty classroom stops everything live.
	hub.SetSessionLogger(tracker.OnJoin, func(classroomID, userID uuid.UUID, joinedAt time.Time) {
		tracker.OnLeave(classroomID, userID, joinedAt)
		spotlightRegistry.OnLeave(classroomID, userID, joinedAt)
	})
	hub.SetAudienceChangeHandler(func(classroomID uuid.UUID, count int) {
		tracker.OnAudience(classroomID, count)
		if count == 0 {
			// The whiteboard snapshot stays in Redis for the next session.
			boards.Drop(classroomID)
			sfu.Drop(classroomID)
			spotlightRegistry.OnAudience(classroomID, count)
		}
	})

	spotlightHandler := spotlight.NewHandler(spotlightRegistry, spotlight.Config{
		MaxActive:        cfg.Spotlight.MaxActive,
		DefaultDuration:  cfg.Spotlight.DefaultDurationSec,
		AutoRotate:       cfg.Spotlight.AutoRotate,
		RotationInterval: cfg.Spotlight.RotationIntervalSec,
		QueueEnabled:     cfg.Spotlight.QueueEnabled,
	}, hub, spotlightRepo, logger)

	// Questions and polls
	questionRepo := questions.NewRepository(pool)
	questionHandler := questions.NewHandler(questionRepo, classroomRepo, hub, spotlightRegistry, logger)
	pollRepo := polls.NewRepository(pool)
	pollHandler := polls.NewHandler(pollRepo, classroomRepo, hub, logger)

	// Recordings: in-app recording taps the screen share; the worker uploads to S3.
	recordingRepo := recordings.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recordingHandler := recordings.NewHandler(recordingRepo, classroomRepo, jobQueue, objectStore, logger)
	recordingWebhook := recordings.NewWebhookHandler(recordingRepo, jobQueue, cfg.Recording.WebhookSecret, logger)
	recorderSvc := recorder.NewService(sfu, cfg.Recording.OutputDir, logger)
	recordingHandler.SetRecordingService(recorderSvc)
	if cfg.Recording.WebhookSecret == "" {
		logger.Warn("recording webhook signature check disabled (RECORDING_WEBHOOK_SECRET empty)")
	}

	jwtValidate := func(token string) (realtime.Identity, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{UserID: claims.UserID, Role: models.Role(claims.Role), DisplayName: claims.Name}, nil
	}

	if cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics(m))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/users", middleware.RequireRole(models.RoleAdmin, models.RoleTeacher), authHandler.List)

		// Classrooms
		api.GET("/classrooms", classroomHandler.List)
		api.POST("/classrooms", middleware.RequireRole(models.RoleAdmin, models.RoleTeacher), classroomHandler.Create)
		api.GET("/classrooms/:id", classroomHandler.GetByID)
		api.GET("/classrooms/:id/audience_count", classroomHandler.AudienceCount(hub))
		api.GET("/classrooms/:id/participants", classroomHandler.Participants(hub))
		api.GET("/classrooms/:id/whiteboard", boardHandler.Snapshot)
		api.GET("/classrooms/:id/spotlight", spotlightHandler.Get)
		api.GET("/classrooms/:id/polls", pollHandler.List)
		api.POST("/classrooms/:id/polls", teacherOnly, pollHandler.Create)
		api.GET("/classrooms/:id/questions", questionHandler.ListByClassroom)
		api.POST("/classrooms/:id/questions", questionHandler.Create)

		teach := api.Group("/classrooms/:id", teacherOnly)
		{
			teach.PATCH("", classroomHandler.Update)
			teach.DELETE("", classroomHandler.Delete)
			teach.POST("/teachers", classroomHandler.AddTeacher)
			teach.GET("/attendance", attendanceHandler.Report)
			teach.GET("/sessions", attendanceHandler.Sessions)
			teach.GET("/analytics", analyticsHandler.GetByClassroom)

			teach.POST("/spotlight/start", spotlightHandler.Start)
			teach.POST("/spotlight/stop", spotlightHandler.Stop)
			teach.POST("/spotlight/entries", spotlightHandler.Add)
			teach.DELETE("/spotlight/entries/:participantId", spotlightHandler.Remove)
			teach.POST("/spotlight/entries/:participantId/extend", spotlightHandler.Extend)
			teach.POST("/spotlight/rotate", spotlightHandler.Rotate)
			teach.PUT("/spotlight/auto-rotate", spotlightHandler.SetAutoRotate)
			teach.GET("/spotlight/history", spotlightHandler.History)

			teach.GET("/recordings", recordingHandler.ListByClassroom)
			teach.POST("/recording/start", recordingHandler.StartRecording)
			teach.POST("/recording/stop", recordingHandler.StopRecording)
		}

		// Questions
		api.PATCH("/questions/:id/approve", questionHandler.Approve)
		api.PATCH("/questions/:id/answer", questionHandler.Answer)
		api.POST("/questions/:id/upvote", questionHandler.Upvote)
		api.POST("/questions/:id/spotlight", questionHandler.Spotlight)

		// Polls
		api.POST("/polls/:id/launch", pollHandler.Launch)
		api.POST("/polls/:id/close", pollHandler.Close)
		api.POST("/polls/:id/answer", pollHandler.Answer)
		api.GET("/polls/:id/results", pollHandler.Results)

		// Recordings
		api.GET("/recordings/:id/download-url", recordingHandler.GenerateDownloadURL)
		api.DELETE("/recordings/:id", recordingHandler.Delete)
	}

	// Webhooks (no JWT; HMAC signature checked in the handler)
	router.POST("/webhooks/recording-ready", recordingWebhook.RecordingReady)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, sfu, classroomRepo))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go spotlightBroadcast.Run(bgCtx)
	go spotlightHistory.Run(bgCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	spotlightRegistry.StopAll()
	recorderSvc.StopAll()
	bgCancel()
	for name, n := range map[string]*spotlight.AsyncNotifier{"broadcast": spotlightBroadcast, "history": spotlightHistory} {
		select {
		case <-n.Done():
		case <-shutdownCtx.Done():
			logger.Warn("spotlight notifications not flushed before shutdown deadline", zap.String("notifier", name))
		}
	}
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	if level == "debug" {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
