package middleware

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"BulkSMS/pkg/logger"
)

var metricsOnce sync.Once

// Init 初始化 HTTP 指标；未配置 MeterProvider 时使用全局 noop 实现
func Init() error {
	var err error
	metricsOnce.Do(func() {
		err = InitMetrics(otel.Meter("bulksms/http"))
	})
	if err != nil {
		logger.Logger.Error("Failed to initialize HTTP metrics", zap.Error(err))
		return err
	}

	logger.Logger.Info("All middlewares initialized successfully")
	return nil
}
