package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"BulkSMS/config"
	"BulkSMS/internal/queue"
	"BulkSMS/internal/schedule"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/metrics"
	"BulkSMS/pkg/sms"
	"BulkSMS/pkg/snowflake"
	"BulkSMS/storage"
)

func main() {
	logger.Init("scheduler")
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if err := metrics.InitMetrics(); err != nil {
		logger.Logger.Warn("Failed to initialize metrics", zap.Error(err))
	}

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	// 与 worker 和 server 使用不同的 machine id
	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for scheduler", zap.Error(err))
	}

	// 对账服务单例构造时需要供应商客户端，轮询本身只入队不直连供应商
	if err := sms.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize SMS service for scheduler", zap.Error(err))
	}

	if err := queue.DeclareTopology(); err != nil {
		logger.Logger.Fatal("Failed to declare queues", zap.Error(err))
	}

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", config.Cfg.ServiceName+"-scheduler"),
		zap.String("environment", config.Cfg.Environment),
	)

	s := schedule.GetScheduler()
	if err := s.Start(ctx); err != nil {
		logger.Logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	<-ctx.Done()
	s.Stop()

	logger.Logger.Info("Scheduler service shutting down gracefully")
}
