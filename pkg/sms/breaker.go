package sms

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常工作
	StateOpen                  // 熔断中
	StateHalfOpen              // 尝试恢复
)

// CircuitBreaker 供应商熔断器，只统计可重试的故障
type CircuitBreaker struct {
	name             string
	maxFailures      int
	resetTimeout     time.Duration
	halfOpenMaxCalls int

	mu            sync.Mutex
	state         State
	failures      int
	lastFailTime  time.Time
	halfOpenCalls int

	now func() time.Time
}

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		resetTimeout:     resetTimeout,
		halfOpenMaxCalls: 3,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Call 执行带熔断保护的操作，熔断时返回 ProviderUnavailable
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return errors.NewProviderError(errors.ProviderUnavailable, cb.name,
			fmt.Errorf("circuit breaker '%s' is open", cb.name))
	}

	err := operation(ctx)
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailTime) < cb.resetTimeout {
			return false
		}
		cb.transitionToHalfOpen()
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	default:
		return false
	}
}

// countsAsFailure 号码或内容被拒绝不代表供应商故障
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var pe *errors.ProviderError
	if stderrors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if countsAsFailure(err) {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.transitionToClosed()
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailTime = cb.now()

	logger.Logger.Warn("Provider call failed",
		zap.String("breaker", cb.name),
		zap.Int("failures", cb.failures),
		zap.String("state", cb.stateName()),
	)

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.transitionToOpen()
		}
	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0

	logger.Logger.Info("Circuit breaker transitioned to closed", zap.String("breaker", cb.name))
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.state = StateOpen
	cb.halfOpenCalls = 0

	logger.Logger.Warn("Circuit breaker transitioned to open",
		zap.String("breaker", cb.name),
		zap.Int("failures", cb.failures),
		zap.Duration("reset_timeout", cb.resetTimeout),
	)
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.state = StateHalfOpen
	cb.halfOpenCalls = 0

	logger.Logger.Info("Circuit breaker transitioned to half-open", zap.String("breaker", cb.name))
}

func (cb *CircuitBreaker) stateName() string {
	switch cb.state {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type breakerClient struct {
	next Client
	cb   *CircuitBreaker
}

// WithBreaker 为客户端的 Send 与 Status 加上熔断保护
func WithBreaker(next Client, cb *CircuitBreaker) Client {
	return &breakerClient{next: next, cb: cb}
}

func (b *breakerClient) Name() string { return b.next.Name() }

func (b *breakerClient) Send(ctx context.Context, to, body, senderID string) (*SendResponse, error) {
	var resp *SendResponse
	err := b.cb.Call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = b.next.Send(ctx, to, body, senderID)
		return err
	})
	return resp, err
}

func (b *breakerClient) Status(ctx context.Context, externalID string) (*StatusResponse, error) {
	var resp *StatusResponse
	err := b.cb.Call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = b.next.Status(ctx, externalID)
		return err
	})
	return resp, err
}
