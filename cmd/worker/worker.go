package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"BulkSMS/config"
	"BulkSMS/internal/cache"
	"BulkSMS/internal/queue"
	"BulkSMS/internal/service"
	"BulkSMS/internal/worker"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/metrics"
	"BulkSMS/pkg/otel"
	"BulkSMS/pkg/sms"
	"BulkSMS/pkg/snowflake"
	"BulkSMS/storage"
	"BulkSMS/storage/redis"
)

func main() {
	logger.Init("worker")
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Logger.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if config.Cfg.OTelEnabled {
		shutdown, err := otel.InitOpenTelemetry(ctx, otel.Config{
			ServiceName:    config.Cfg.ServiceName + "-worker",
			ServiceVersion: config.Cfg.ServiceVersion,
			Environment:    config.Cfg.Environment,
			OTLPEndpoint:   config.Cfg.OTelEndpoint,
			SampleRatio:    config.Cfg.OTelSampleRatio,
		})
		if err != nil {
			logger.Logger.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}
	if err := metrics.InitMetrics(); err != nil {
		logger.Logger.Warn("Failed to initialize metrics", zap.Error(err))
	}

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	// worker 没有供应商就无法工作
	if err := sms.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize SMS service", zap.Error(err))
	}

	if err := queue.DeclareTopology(); err != nil {
		logger.Logger.Fatal("Failed to declare queues", zap.Error(err))
	}

	var dedupe cache.Deduper = cache.NewLocalDeduper(config.Cfg.DedupeCacheSize, config.Cfg.DedupeTTL)
	if config.Cfg.DedupeUseRedis {
		dedupe = cache.NewTieredDeduper(dedupe, cache.NewRedisDeduper(redis.Client(), config.Cfg.DedupeTTL))
	}
	defer dedupe.Close()

	// 发送池受供应商速率限制；对账池只限并发
	sendPool := worker.NewPool("sms_send", config.Cfg.WorkerConcurrency, config.Cfg.WorkerRatePerSecond)
	statusPool := worker.NewPool("delivery_status", config.Cfg.ReconcileConcurrency, 0)

	consumer := queue.NewConsumer(dedupe, service.Outbound(), service.Reconcile())

	logger.Logger.Info("Worker service starting",
		zap.String("service", config.Cfg.ServiceName+"-worker"),
		zap.String("environment", config.Cfg.Environment),
		zap.String("provider", config.Cfg.SMSProvider),
		zap.Int("concurrency", config.Cfg.WorkerConcurrency),
		zap.Int("rate_per_second", config.Cfg.WorkerRatePerSecond),
	)

	if err := queue.StartAllConsumers(ctx, consumer, queue.Pools{Send: sendPool, Status: statusPool}, config.Cfg.WorkerConcurrency); err != nil && ctx.Err() == nil {
		logger.Logger.Error("Consumers stopped unexpectedly", zap.Error(err))
	}

	// 等待执行中的任务结束再关闭连接
	sendPool.Wait()
	statusPool.Wait()

	logger.Logger.Info("Worker service shutting down gracefully")
}
