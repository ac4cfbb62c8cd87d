package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzap "github.com/hertz-contrib/logger/zap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"TourCheckin/config"
)

var (
	Logger *zap.Logger

	// 关闭 LOGGER_OUTPUT_PATH 打开的文件
	closeOutput func()
)

// Init 初始化全局 zap logger，并桥接到 hertz 的 hlog
// server、worker、scheduler 共用一份配置，用 service/environment 字段区分来源
func Init() {
	level := zap.NewAtomicLevelAt(parseLevel(config.Cfg.LoggerLevel))

	hzLogger := hertzzap.NewLogger(
		hertzzap.WithCoreEnc(newEncoder(useConsoleEncoding())),
		hertzzap.WithCoreWs(openOutput(config.Cfg.LoggerOutputPath)),
		hertzzap.WithCoreLevel(level),
		hertzzap.WithZapOptions(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
			zap.Fields(
				zap.String("service", config.Cfg.ServiceName),
				zap.String("version", config.Cfg.ServiceVersion),
				zap.String("environment", config.Cfg.Environment),
			),
		),
	)
	hlog.SetLogger(hzLogger)
	hlog.SetLevel(hlogLevel(level.Level()))

	Logger = hzLogger.Logger()
	Logger.Info("Logger initialized",
		zap.Stringer("level", level.Level()),
		zap.Bool("console", useConsoleEncoding()),
		zap.String("output", config.Cfg.LoggerOutputPath),
		zap.String("timezone", config.Cfg.AppTimezone),
	)
}

// L 返回全局 logger，未初始化时返回 Nop，测试里可以直接构造各组件
func L() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

// Named 子 logger，component 字段用于按模块过滤（checkin、scheduler、roster_consumer 等）
func Named(component string) *zap.Logger {
	return L().With(zap.String("component", component))
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
	if closeOutput != nil {
		closeOutput()
	}
}

func useConsoleEncoding() bool {
	return config.Cfg.IsDevelopment() || strings.EqualFold(config.Cfg.LoggerFormat, "text")
}

func newEncoder(console bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	if console {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// openOutput 支持 stdout、stderr 与文件路径，由 zap.Open 统一处理
func openOutput(path string) zapcore.WriteSyncer {
	switch {
	case path == "":
		path = "stdout"
	case strings.EqualFold(path, "stdout"), strings.EqualFold(path, "stderr"):
		// 标准输出大小写不敏感，文件路径保持原样
		path = strings.ToLower(path)
	}

	ws, closeFn, err := zap.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARN: cannot open log output %q: %v, falling back to stdout\n", path, err)
		return zapcore.Lock(os.Stdout)
	}
	closeOutput = closeFn
	return ws
}

func parseLevel(level string) zapcore.Level {
	parsed, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zapcore.InfoLevel
	}
	return parsed
}

func hlogLevel(level zapcore.Level) hlog.Level {
	switch {
	case level <= zapcore.DebugLevel:
		return hlog.LevelDebug
	case level == zapcore.InfoLevel:
		return hlog.LevelInfo
	case level == zapcore.WarnLevel:
		return hlog.LevelWarn
	default:
		return hlog.LevelError
	}
}
