package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool("test", 3, 0)
	ctx := context.Background()

	var current, peak int32
	for i := 0; i < 20; i++ {
		err := p.Go(ctx, func(context.Context) {
			n := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		})
		if err != nil {
			t.Fatalf("Go() error = %v", err)
		}
	}
	p.Wait()

	if peak > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", peak)
	}
	if p.InFlight() != 0 {
		t.Fatalf("InFlight after Wait = %d", p.InFlight())
	}
}

func TestPoolRateLimit(t *testing.T) {
	// 突发 10，之后每秒 10 个：前 10 个立即执行，第 11 个约等待 100ms
	p := NewPool("rate", 50, 10)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 11; i++ {
		if err := p.Go(ctx, func(context.Context) {}); err != nil {
			t.Fatalf("Go() error = %v", err)
		}
	}
	p.Wait()

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("elapsed = %v, limiter did not throttle", elapsed)
	}
}

func TestPoolContextCancelled(t *testing.T) {
	p := NewPool("cancel", 1, 0)
	ctx, cancel := context.WithCancel(context.Background())

	block := make(chan struct{})
	if err := p.Go(ctx, func(context.Context) { <-block }); err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	cancel()
	ran := false
	if err := p.Go(ctx, func(context.Context) { ran = true }); err == nil {
		t.Fatalf("Go() on cancelled ctx should fail")
	}
	close(block)
	p.Wait()
	if ran {
		t.Fatalf("task submitted after cancel must not run")
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	p := NewPool("panic", 2, 0)
	ctx := context.Background()
	if err := p.Go(ctx, func(context.Context) { panic("boom") }); err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	p.Wait()

	done := make(chan struct{})
	if err := p.Go(ctx, func(context.Context) { close(done) }); err != nil {
		t.Fatalf("Go() after panic error = %v", err)
	}
	<-done
	p.Wait()
}
