package logger

import (
	"io"
	"os"
	"strings"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzap "github.com/hertz-contrib/logger/zap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"BulkSMS/config"
)

var (
	// Logger 在 Init 之前为 nop，测试与工具命令可直接使用
	Logger   = zap.NewNop()
	logClose io.Closer
)

type level struct {
	zap  zapcore.Level
	hlog hlog.Level
}

var levels = map[string]level{
	"DEBUG": {zapcore.DebugLevel, hlog.LevelDebug},
	"INFO":  {zapcore.InfoLevel, hlog.LevelInfo},
	"WARN":  {zapcore.WarnLevel, hlog.LevelWarn},
	"ERROR": {zapcore.ErrorLevel, hlog.LevelError},
}

// Init 构建全局 logger 并接管 hertz 的 hlog；process 区分 server/worker/scheduler/ledger
func Init(process string) {
	lv := parseLevel(config.Cfg.LoggerLevel)
	atomic := zap.NewAtomicLevelAt(lv.zap)

	hzLogger := hertzzap.NewLogger(
		hertzzap.WithCoreEnc(buildEncoder()),
		hertzzap.WithCoreWs(buildWriteSyncer()),
		hertzzap.WithCoreLevel(atomic),
		hertzzap.WithZapOptions(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
			zap.Fields(
				zap.String("service", config.Cfg.ServiceName),
				zap.String("process", process),
			),
		),
	)
	hlog.SetLogger(hzLogger)
	hlog.SetLevel(lv.hlog)

	Logger = hzLogger.Logger()
	Logger.Info("Logger initialized",
		zap.String("level", lv.zap.CapitalString()),
		zap.String("format", config.Cfg.LoggerFormat),
		zap.String("environment", config.Cfg.Environment),
	)
}

// Named 返回带组件名的子 logger
func Named(component string) *zap.Logger {
	return Logger.With(zap.String("component", component))
}

func Sync() {
	_ = Logger.Sync()
	if logClose != nil {
		_ = logClose.Close()
	}
}

func parseLevel(s string) level {
	if lv, ok := levels[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return lv
	}
	return levels["INFO"]
}

func buildEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if config.Cfg.IsDevelopment() || strings.EqualFold(config.Cfg.LoggerFormat, "text") {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func buildWriteSyncer() zapcore.WriteSyncer {
	if strings.EqualFold(config.Cfg.LoggerOutputPath, "stdout") {
		return zapcore.AddSync(os.Stdout)
	}

	file, err := os.OpenFile(config.Cfg.LoggerOutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		panic("failed to open log file: " + err.Error())
	}
	logClose = file

	return zapcore.AddSync(file)
}
