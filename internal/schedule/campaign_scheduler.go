package schedule

// 活动调度器：定时派发到期的活动、收尾已入队的活动、轮询长时间没有回执的消息

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"BulkSMS/config"
	"BulkSMS/internal/service"
	"BulkSMS/pkg/logger"
)

const defaultScanLimit = 100

// DueDispatcher 派发 scheduled_at 已到的活动
type DueDispatcher interface {
	DispatchDue(ctx context.Context, limit int) (int, error)
}

// Finalizer 活动收尾与回执轮询
type Finalizer interface {
	FinalizeCampaigns(ctx context.Context, limit int) (int, error)
	PollStale(ctx context.Context) (int, error)
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) (int, error)

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

type CampaignScheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	jobs   []*job
}

var (
	schedulerOnce sync.Once
	schedulerInst *CampaignScheduler
)

func GetScheduler() *CampaignScheduler {
	schedulerOnce.Do(func() {
		schedulerInst = NewCampaignScheduler(service.Dispatch(), service.Reconcile())
	})
	return schedulerInst
}

func NewCampaignScheduler(due DueDispatcher, finalizer Finalizer) *CampaignScheduler {
	s := &CampaignScheduler{logger: logger.Named("scheduler")}
	s.jobs = []*job{
		{
			name:    "dispatch_due",
			spec:    config.Cfg.SchedulerDueSpec,
			timeout: 5 * time.Minute,
			run:     func(ctx context.Context) (int, error) { return due.DispatchDue(ctx, defaultScanLimit) },
		},
		{
			name:    "finalize_campaigns",
			spec:    config.Cfg.SchedulerFinalizeSpec,
			timeout: 2 * time.Minute,
			run:     func(ctx context.Context) (int, error) { return finalizer.FinalizeCampaigns(ctx, defaultScanLimit) },
		},
		{
			name:    "poll_stale_deliveries",
			spec:    config.Cfg.SchedulerPollSpec,
			timeout: 5 * time.Minute,
			run:     finalizer.PollStale,
		},
	}
	return s
}

// Start 注册全部任务并启动 cron；任务使用 ctx 作为父 context
func (s *CampaignScheduler) Start(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cronLogger{s.logger})))

	for _, j := range s.jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { s.runJob(ctx, j) }); err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", j.spec, j.name, err)
		}
		s.logger.Info("Scheduled job registered",
			zap.String("job", j.name),
			zap.String("spec", j.spec),
		)
	}

	s.cron.Start()
	return nil
}

// Stop 停止触发新任务并等待运行中的任务结束
func (s *CampaignScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunOnce 立即执行指定任务，用于运维手动触发
func (s *CampaignScheduler) RunOnce(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name == name {
			return s.runJob(ctx, j)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// runJob 同一任务不重叠执行，上一轮未结束时跳过本轮
func (s *CampaignScheduler) runJob(ctx context.Context, j *job) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		s.logger.Info("Job already running, skipping", zap.String("job", j.name))
		return nil
	}
	j.running = true
	start := time.Now()
	j.lastRun = start
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	n, err := j.run(runCtx)
	if err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", j.name),
			zap.Int("processed", n),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return err
	}
	if n > 0 {
		s.logger.Info("Scheduled job completed",
			zap.String("job", j.name),
			zap.Int("processed", n),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return nil
}

// cronLogger 把 cron 内部日志接到 zap
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
