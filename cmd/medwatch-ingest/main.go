package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"medwatch-ingest/internal/alert"
	"medwatch-ingest/internal/broadcaster"
	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/consumer"
	"medwatch-ingest/internal/decoder"
	"medwatch-ingest/internal/logger"
	"medwatch-ingest/internal/models"
	"medwatch-ingest/internal/mqtt"
	"medwatch-ingest/internal/normalizer"
	"medwatch-ingest/internal/notifier"
	"medwatch-ingest/internal/repository"
	"medwatch-ingest/internal/resolver"
	"medwatch-ingest/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env 仅本地开发使用，缺失不致命
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "medwatch-ingest", cfg.Log.File)
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	db, err := repository.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer repository.Close(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// 仓库
	patientRepo := repository.NewPatientRepository(db, log)
	registryRepo := repository.NewDeviceRegistryRepository(db, log)
	resourceRepo := repository.NewResourceRepository(db, log)
	statusRepo := repository.NewDeviceStatusRepository(db, log)
	alertRepo := repository.NewAlertRepository(db, log)

	// 管道各阶段
	registry := decoder.NewRegistry(
		decoder.NewESP32Decoder(),
		decoder.NewWatchDecoder(),
		decoder.NewCM4Decoder(),
	)
	patientResolver := resolver.NewPatientResolver(
		patientRepo, registryRepo, redisClient, cfg.Pipeline.PlaceholderWindow, log)
	hospitalResolver := resolver.NewHospitalResolver(
		patientRepo, registryRepo, cfg.Pipeline.DefaultHospitalID, log)
	norm := normalizer.NewNormalizer(resourceRepo, log)
	feed := broadcaster.New(cfg.Feed.HistorySize, cfg.Feed.SubscriberBuffer, log)
	detector := alert.NewDetector(alertRepo, patientRepo, redisClient, cfg.Alert.Thresholds, cfg.Alert.DedupWindow, log)
	dispatcher := notifier.NewDispatcher(cfg, alertRepo,
		func(stage models.StreamStage, summary map[string]interface{}) {
			feed.Publish(stage, summary)
		}, log)

	pipeline := service.NewPipeline(
		registry, patientResolver, hospitalResolver,
		norm, detector, dispatcher, statusRepo, feed, log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher.Start(ctx)

	// MQTT 接入
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, log)
	if err != nil {
		log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer mqttClient.Disconnect()

	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, registry, pipeline, log)
	if err := mqttConsumer.Start(ctx); err != nil {
		log.Fatal("Failed to start MQTT consumer", zap.Error(err))
	}

	// HTTP 服务（实时流、历史缓冲、报警确认）
	handlers := service.NewHandlers(feed, detector, alertRepo, log)
	server := service.NewServer(cfg.HTTP.Addr, handlers.Mux(), log)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	// 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrChan:
		log.Error("HTTP server error", zap.Error(err))
	}

	// 关闭顺序：停止接入 → 排空管道 → 停止通知 → 停止HTTP
	mqttConsumer.Stop()
	cancel()
	dispatcher.Stop(cfg.Shutdown.Grace)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.Grace)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("medwatch-ingest stopped")
}
