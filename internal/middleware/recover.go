package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"TourCheckin/config"
	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/pkg/logger"
	"TourCheckin/pkg/response"
)

// RecoverConfig recover 中间件配置
type RecoverConfig struct {
	// 是否在日志中记录堆栈
	EnableStackTrace bool
	// 是否把 panic 详情返回给调用方，生产环境应关闭
	ExposeDetails bool
	// 是否在当前 span 上记录异常
	RecordInSpan bool
	// 日志输出，nil 时使用全局 logger
	Logger *zap.Logger
}

// NewRecoverConfig 按运行环境生成默认配置
func NewRecoverConfig() RecoverConfig {
	return RecoverConfig{
		EnableStackTrace: true,
		ExposeDetails:    !config.Cfg.IsProduction(),
		RecordInSpan:     true,
	}
}

// RecoverMiddleware 创建 recover 中间件
func RecoverMiddleware() app.HandlerFunc {
	return RecoverMiddlewareWithConfig(NewRecoverConfig())
}

// RecoverMiddlewareWithConfig 带配置的 recover 中间件
func RecoverMiddlewareWithConfig(cfg RecoverConfig) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if r := recover(); r != nil {
				handlePanic(ctx, c, r, cfg)
			}
		}()

		c.Next(ctx)
	}
}

func handlePanic(ctx context.Context, c *app.RequestContext, r interface{}, cfg RecoverConfig) {
	var stack []byte
	if cfg.EnableStackTrace {
		stack = trimRuntimeFrames(debug.Stack())
	}

	log := cfg.Logger
	if log == nil {
		log = logger.L()
	}

	fields := []zap.Field{
		zap.String("panic", fmt.Sprintf("%v", r)),
		zap.String("path", string(c.Path())),
		zap.String("method", string(c.Method())),
		zap.String("client_ip", c.ClientIP()),
		zap.String("request_id", GetRequestID(c)),
	}
	if staffID, ok := GetStaffID(c); ok {
		fields = append(fields, zap.Int64("staff_id", staffID))
	}
	if len(stack) > 0 {
		fields = append(fields, zap.ByteString("stack", stack))
	}
	log.Error("[PANIC RECOVERED]", fields...)

	if cfg.RecordInSpan {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.RecordError(fmt.Errorf("panic: %v", r), trace.WithStackTrace(false))
			span.SetStatus(codes.Error, "panic recovered")
		}
	}

	c.Abort()
	if !cfg.ExposeDetails {
		response.Error(ctx, c, pkgerrors.InternalFailure)
		return
	}

	details := map[string]interface{}{
		"panic":     fmt.Sprintf("%v", r),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if len(stack) > 0 {
		details["stack"] = string(stack)
	}
	response.ErrorWithDetails(ctx, c, pkgerrors.InternalFailure, details)
}

// trimRuntimeFrames 去掉 runtime 与 recover 本身的堆栈帧
func trimRuntimeFrames(stack []byte) []byte {
	if len(stack) == 0 {
		return nil
	}

	lines := strings.Split(string(stack), "\n")
	filtered := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "runtime/") || strings.HasPrefix(line, "panic(") {
			// 函数行与紧随其后的文件行一起跳过
			i++
			continue
		}
		filtered = append(filtered, line)
	}

	return []byte(strings.Join(filtered, "\n"))
}
