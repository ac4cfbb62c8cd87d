package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/pkg/logger"
	"TourCheckin/pkg/response"
	"TourCheckin/storage/redis"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 时间窗口
	Window time.Duration
	// 时间窗口内最大请求数
	MaxRequests int
	// 限流键前缀
	KeyPrefix string
}

// BulkCheckInRateLimitConfig 批量签到按员工限流，防止客户端重复提交整批名单
var BulkCheckInRateLimitConfig = RateLimitConfig{
	Window:      time.Minute,
	MaxRequests: 30,
	KeyPrefix:   "rate:bulk_checkin",
}

// RateLimiter 基于 redis zset 的滑动窗口限流器
type RateLimiter struct {
	config RateLimitConfig
	client func() *redislib.Client
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config: config,
		client: redis.Client,
	}
}

// getKey 已认证按员工限流，否则按 IP
func (rl *RateLimiter) getKey(c *app.RequestContext) string {
	if staffID, ok := GetStaffID(c); ok {
		return redis.Key(rl.config.KeyPrefix, "staff", strconv.FormatInt(staffID, 10))
	}
	return redis.Key(rl.config.KeyPrefix, "ip", c.ClientIP())
}

// Allow 记录本次请求并返回窗口内的请求数
func (rl *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, int, error) {
	windowStart := now.Add(-rl.config.Window)

	pipe := rl.client().Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redislib.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})
	zcard := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, rl.config.Window+10*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute rate limit pipeline: %w", err)
	}

	count := int(zcard.Val())
	return count <= rl.config.MaxRequests, count, nil
}

// RateLimitMiddleware 创建限流中间件，redis 不可用时放行
func RateLimitMiddleware(config RateLimitConfig) app.HandlerFunc {
	limiter := NewRateLimiter(config)

	return func(ctx context.Context, c *app.RequestContext) {
		now := time.Now()
		allowed, count, err := limiter.Allow(ctx, limiter.getKey(c), now)
		if err != nil {
			logger.L().Warn("Rate limit check failed, allowing request", zap.Error(err))
			c.Next(ctx)
			return
		}

		remaining := config.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(now.Add(config.Window).Unix(), 10))

		if !allowed {
			c.Abort()
			response.Error(ctx, c, pkgerrors.TooManyRequests)
			return
		}

		c.Next(ctx)
	}
}

// BulkCheckInRateLimitMiddleware 批量签到限流，需挂在认证之后
func BulkCheckInRateLimitMiddleware() app.HandlerFunc {
	return RateLimitMiddleware(BulkCheckInRateLimitConfig)
}
