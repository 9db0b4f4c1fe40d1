package schedule

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"
)

type fakeTasks struct {
	mu        sync.Mutex
	due       int
	finalized int
	polled    int
	block     chan struct{}
	err       error
}

func (f *fakeTasks) DispatchDue(context.Context, int) (int, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.due++
	return 1, f.err
}

func (f *fakeTasks) FinalizeCampaigns(context.Context, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized++
	return 0, f.err
}

func (f *fakeTasks) PollStale(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled++
	return 0, f.err
}

func TestRunOnce(t *testing.T) {
	tasks := &fakeTasks{}
	s := NewCampaignScheduler(tasks, tasks)
	ctx := context.Background()

	for _, name := range []string{"dispatch_due", "finalize_campaigns", "poll_stale_deliveries"} {
		if err := s.RunOnce(ctx, name); err != nil {
			t.Fatalf("RunOnce(%s): %v", name, err)
		}
	}
	if tasks.due != 1 || tasks.finalized != 1 || tasks.polled != 1 {
		t.Errorf("due=%d finalized=%d polled=%d", tasks.due, tasks.finalized, tasks.polled)
	}
	if err := s.RunOnce(ctx, "nope"); err == nil {
		t.Errorf("unknown job should fail")
	}
}

func TestRunOncePropagatesErrors(t *testing.T) {
	boom := stderrors.New("db down")
	tasks := &fakeTasks{err: boom}
	s := NewCampaignScheduler(tasks, tasks)

	if err := s.RunOnce(context.Background(), "finalize_campaigns"); !stderrors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	tasks := &fakeTasks{block: make(chan struct{})}
	s := NewCampaignScheduler(tasks, tasks)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.RunOnce(ctx, "dispatch_due") }()

	// 等第一轮进入运行状态
	deadline := time.Now().Add(time.Second)
	for {
		s.jobs[0].mu.Lock()
		running := s.jobs[0].running
		s.jobs[0].mu.Unlock()
		if running || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.RunOnce(ctx, "dispatch_due"); err != nil {
		t.Fatalf("overlapping RunOnce: %v", err)
	}
	close(tasks.block)
	if err := <-done; err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	if tasks.due != 1 {
		t.Errorf("due ran %d times, want 1", tasks.due)
	}
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	tasks := &fakeTasks{}
	s := NewCampaignScheduler(tasks, tasks)
	s.jobs[1].spec = "every tuesday-ish"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err == nil {
		t.Errorf("invalid spec should fail")
	}
}
