package cache

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/storage/redis"
)

const lockPrefix = "lock:campaign"

// DispatchLocker 每个活动同一时间只允许一个投递流程
type DispatchLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewDispatchLocker(rdb *goredis.Client, ttl time.Duration) *DispatchLocker {
	return &DispatchLocker{client: redislock.New(rdb), ttl: ttl}
}

// Lock 获取锁并在后台按 ttl/2 续期，返回的 release 必须调用
// 锁被占用时返回 errors.CampaignLocked
func (l *DispatchLocker) Lock(ctx context.Context, campaignID int64) (func(), error) {
	key := redis.Key(lockPrefix, strconv.FormatInt(campaignID, 10))

	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if stderrors.Is(err, redislock.ErrNotObtained) {
		return nil, errors.CampaignLocked
	}
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.Background(), l.ttl, nil); err != nil {
					logger.Logger.Warn("Failed to refresh dispatch lock",
						zap.Int64("campaign_id", campaignID),
						zap.Error(err),
					)
					return
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		if err := lock.Release(context.Background()); err != nil && !stderrors.Is(err, redislock.ErrLockNotHeld) {
			logger.Logger.Warn("Failed to release dispatch lock",
				zap.Int64("campaign_id", campaignID),
				zap.Error(err),
			)
		}
	}, nil
}
