package worker

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"BulkSMS/pkg/logger"
)

// Pool 有界并发 + 令牌桶限速的执行池
// Go 在拿到令牌和并发槽位之前阻塞，消费端因此自然形成背压
type Pool struct {
	name    string
	sem     chan struct{}
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// NewPool ratePerSecond <= 0 表示不限速
func NewPool(name string, concurrency, ratePerSecond int) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond)
	}

	return &Pool{
		name:    name,
		sem:     make(chan struct{}, concurrency),
		limiter: limiter,
	}
}

// Go 提交任务；ctx 结束时返回 ctx.Err()，任务不会执行
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				logger.Logger.Error("Panic in worker pool task",
					zap.String("pool", p.name),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
			}
		}()
		fn(ctx)
	}()
	return nil
}

// Wait 等待所有已提交任务结束
func (p *Pool) Wait() {
	p.wg.Wait()
}

// InFlight 当前执行中的任务数
func (p *Pool) InFlight() int {
	return len(p.sem)
}
