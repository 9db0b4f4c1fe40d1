package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"BulkSMS/pkg/logger"
	"BulkSMS/storage/redis"
)

const (
	messageProcessedPrefix = "msg:processed"
	processingTTL          = 10 * time.Minute
)

// Deduper 队列消息去重
// TryMark 首次见到返回 true；处理失败调用 Unmark 允许重投；成功调用 MarkDone
type Deduper interface {
	TryMark(ctx context.Context, key string) (bool, error)
	Unmark(ctx context.Context, key string) error
	MarkDone(ctx context.Context, key string) error
	Close()
}

// LocalDeduper 进程内有界 TTL 缓存，由进程启动时创建、关闭时清空
type LocalDeduper struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

func NewLocalDeduper(size int, ttl time.Duration) *LocalDeduper {
	return &LocalDeduper{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (d *LocalDeduper) TryMark(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cache.Peek(key); ok {
		return false, nil
	}
	d.cache.Add(key, struct{}{})
	return true, nil
}

func (d *LocalDeduper) Unmark(_ context.Context, key string) error {
	d.cache.Remove(key)
	return nil
}

func (d *LocalDeduper) MarkDone(context.Context, string) error { return nil }

func (d *LocalDeduper) Len() int { return d.cache.Len() }

func (d *LocalDeduper) Close() { d.cache.Purge() }

// RedisDeduper 跨进程去重：SETNX processing，成功后改写为 completed 并延长 TTL
type RedisDeduper struct {
	client  *goredis.Client
	doneTTL time.Duration
}

func NewRedisDeduper(client *goredis.Client, doneTTL time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, doneTTL: doneTTL}
}

func (d *RedisDeduper) TryMark(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, redis.Key(messageProcessedPrefix, key), "processing", processingTTL).Result()
}

func (d *RedisDeduper) Unmark(ctx context.Context, key string) error {
	return d.client.Del(ctx, redis.Key(messageProcessedPrefix, key)).Err()
}

func (d *RedisDeduper) MarkDone(ctx context.Context, key string) error {
	return d.client.Set(ctx, redis.Key(messageProcessedPrefix, key), "completed", d.doneTTL).Err()
}

func (d *RedisDeduper) Close() {}

// TieredDeduper 先查本地，再查 Redis；Redis 故障时退化为仅本地
type TieredDeduper struct {
	local  Deduper
	remote Deduper
}

func NewTieredDeduper(local, remote Deduper) *TieredDeduper {
	return &TieredDeduper{local: local, remote: remote}
}

func (d *TieredDeduper) TryMark(ctx context.Context, key string) (bool, error) {
	first, err := d.local.TryMark(ctx, key)
	if err != nil || !first {
		return first, err
	}

	first, err = d.remote.TryMark(ctx, key)
	if err != nil {
		logger.Logger.Warn("Remote dedupe unavailable, falling back to local",
			zap.String("key", key),
			zap.Error(err),
		)
		return true, nil
	}
	if !first {
		// 其他进程正在处理或已完成，本地不保留标记，避免对方失败重投后被误判
		_ = d.local.Unmark(ctx, key)
	}
	return first, nil
}

func (d *TieredDeduper) Unmark(ctx context.Context, key string) error {
	_ = d.local.Unmark(ctx, key)
	return d.remote.Unmark(ctx, key)
}

func (d *TieredDeduper) MarkDone(ctx context.Context, key string) error {
	_ = d.local.MarkDone(ctx, key)
	return d.remote.MarkDone(ctx, key)
}

func (d *TieredDeduper) Close() {
	d.local.Close()
	d.remote.Close()
}
