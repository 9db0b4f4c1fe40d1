package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"BulkSMS/config"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/response"
	"BulkSMS/storage/redis"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 时间窗口（秒）
	Window int
	// 时间窗口内最大请求数
	MaxRequests int
	// 限流键前缀
	KeyPrefix string
	// 按路径上的 store_id 限流，缺失时退化为按 IP
	ByStore bool
}

// DispatchRateLimitConfig 发送与重发接口，每个店铺独立计数
func DispatchRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:      config.Cfg.RateLimitWindow,
		MaxRequests: config.Cfg.RateLimitMax,
		KeyPrefix:   "rate:dispatch",
		ByStore:     true,
	}
}

// RateLimiter 基于 Redis ZSET 的滑动窗口限流
type RateLimiter struct {
	config RateLimitConfig
	client func() *redislib.Client
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{config: cfg, client: redis.Client}
}

func (rl *RateLimiter) identifier(c *app.RequestContext) string {
	if rl.config.ByStore {
		if storeID := c.Param("store_id"); storeID != "" {
			return "store:" + storeID
		}
	}
	return "ip:" + c.ClientIP()
}

// Allow 返回是否放行以及窗口内已有请求数
func (rl *RateLimiter) Allow(ctx context.Context, id string) (bool, int, error) {
	key := redis.Key(rl.config.KeyPrefix, id)
	now := time.Now()
	windowStart := now.Add(-time.Duration(rl.config.Window) * time.Second)

	pipe := rl.client().Pipeline()

	// 先移除窗口之外的记录
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redislib.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})
	zcardCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, time.Duration(rl.config.Window+10)*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute pipeline: %w", err)
	}

	count := int(zcardCmd.Val())
	return count <= rl.config.MaxRequests, count, nil
}

// RateLimitMiddleware Redis 不可用时放行，限流不应阻断派发
func RateLimitMiddleware(cfg RateLimitConfig) app.HandlerFunc {
	limiter := NewRateLimiter(cfg)

	return func(ctx context.Context, c *app.RequestContext) {
		if !config.Cfg.RateLimitEnabled {
			c.Next(ctx)
			return
		}

		id := limiter.identifier(c)
		allowed, count, err := limiter.Allow(ctx, id)
		if err != nil {
			logger.Logger.Warn("Failed to check rate limit", zap.String("key", id), zap.Error(err))
			c.Next(ctx)
			return
		}

		c.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(max(cfg.MaxRequests-count, 0)))
		c.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(cfg.Window)*time.Second).Unix(), 10))

		if !allowed {
			response.Error(ctx, c, errors.TooManyRequests)
			c.Abort()
			return
		}

		c.Next(ctx)
	}
}

func DispatchRateLimitMiddleware() app.HandlerFunc {
	return RateLimitMiddleware(DispatchRateLimitConfig())
}
