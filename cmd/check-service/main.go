package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gradebox/internal/check/checker"
	"gradebox/internal/check/controller"
	"gradebox/internal/check/repository"
	"gradebox/internal/check/sandbox"
	"gradebox/internal/check/sandbox/engine"
	"gradebox/internal/check/service"
	"gradebox/internal/check/session"
	"gradebox/internal/common/cache"
	"gradebox/internal/common/db"
	commonmw "gradebox/internal/common/http/middleware"
	"gradebox/internal/common/mq"
	"gradebox/internal/common/storage"
	appErr "gradebox/pkg/errors"
	"gradebox/pkg/utils/logger"
	"gradebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/check_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	eng, err := engine.New(context.Background(), appCfg.Sandbox.toEngineConfig())
	if err != nil {
		logger.Error(context.Background(), "init isolation backend failed", zap.Error(err))
		return
	}
	runner := sandbox.NewRunner(eng)
	registry := checker.NewRegistry(appCfg.Check.toCheckerConfig(), runner)
	evaluator := session.NewEvaluator(registry)

	reportRepo := repository.NewReportRepository(redisCache, appCfg.Report.TTL)
	if appCfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			logger.Error(context.Background(), "init database failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		reportRepo.WithArchive(repository.NewReportArchive(mysqlDB))
	}
	reportPublisher := repository.NewMQReportEventPublisher(mqClient, appCfg.Report.FinalTopic)
	dirMode, _ := parseDirMode(appCfg.Check.DirMode)

	checkSvc, err := service.NewService(service.Config{
		Evaluator:      evaluator,
		Reports:        reportRepo,
		Publisher:      reportPublisher,
		Storage:        objStorage,
		Queue:          mqClient,
		Backend:        string(runner.Backend()),
		SourceBucket:   appCfg.Source.Bucket,
		ScriptBucket:   appCfg.Source.ScriptBucket,
		WorkRoot:       appCfg.Check.WorkRoot,
		KeepWorkDir:    appCfg.Check.KeepWorkDir,
		DirMode:        dirMode,
		MaxSourceBytes: appCfg.Source.MaxBytes,
		Reclaimer:      runner,
		WorkerTimeout:  appCfg.Worker.Timeout,
		StorageTimeout: appCfg.Source.Timeout,
		ReportTimeout:  appCfg.Report.Timeout,
		ClaimTTL:       appCfg.Report.ClaimTTL,
		WorkerPoolSize: appCfg.Worker.PoolSize,
		RetryTopic:     appCfg.Kafka.RetryTopic,
		DeadLetter:     appCfg.Kafka.DeadLetter,
		PoolRetryMax:   appCfg.Kafka.PoolRetryMax,
		PoolRetryBase:  appCfg.Kafka.PoolRetryBase,
		PoolRetryMaxD:  appCfg.Kafka.PoolRetryMaxD,
	})
	if err != nil {
		logger.Error(context.Background(), "init check service failed", zap.Error(err))
		return
	}

	limiter := mq.NewTokenLimiter(appCfg.Worker.PoolSize)
	topics := []string{appCfg.Kafka.Topic}
	if appCfg.Kafka.RetryTopic != appCfg.Kafka.Topic {
		topics = append(topics, appCfg.Kafka.RetryTopic)
	}
	for _, topic := range topics {
		err = mqClient.SubscribeWithOptions(context.Background(), topic, checkSvc.HandleMessage, &mq.SubscribeOptions{
			ConsumerGroup:   appCfg.Kafka.ConsumerGroup,
			Concurrency:     appCfg.Kafka.Concurrency,
			MaxRetries:      appCfg.Kafka.MaxRetries,
			RetryDelay:      appCfg.Kafka.RetryDelay,
			DeadLetterTopic: appCfg.Kafka.DeadLetter,
			MessageTTL:      appCfg.Kafka.MessageTTL,
			Limiter:         limiter,
		})
		if err != nil {
			logger.Error(context.Background(), "subscribe kafka failed", zap.String("topic", topic), zap.Error(err))
			return
		}
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "check consumer started",
		zap.Strings("topics", topics),
		zap.String("backend", string(runner.Backend())),
		zap.Int("pool_size", appCfg.Worker.PoolSize),
	)

	httpServer := buildHTTPServer(appCfg.Server, reportRepo, redisCache, string(runner.Backend()))
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "check http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

type pinger interface {
	Ping(ctx context.Context) error
}

func buildHTTPServer(cfg ServerConfig, reports controller.ReportReader, redis pinger, backend string) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", healthHandler(redis, backend))
	api := router.Group("/api/v1/checks")
	checkController := controller.NewCheckController(reports)
	api.GET("/submissions/:id", checkController.GetReport)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func healthHandler(redis pinger, backend string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := redis.Ping(ctx); err != nil {
			response.Error(c, appErr.Wrap(err, appErr.ServiceUnavailable))
			return
		}
		response.Success(c, gin.H{"status": "ok", "backend": backend})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
