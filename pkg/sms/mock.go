package sms

import (
	"context"
	"strconv"
	"sync"

	"BulkSMS/pkg/errors"
)

type MockCall struct {
	To       string
	Body     string
	SenderID string
}

// MockClient 记录调用的内存客户端，可按号码注入失败、按消息 ID 设定状态
type MockClient struct {
	mu    sync.Mutex
	Calls []MockCall

	// FailNext 置为 true 时，下一次 Send 返回可重试错误并自动复位
	FailNext bool
	// FailFor 对指定号码始终返回该错误
	FailFor map[string]error
	// Statuses Status 查询结果，未设置时返回 delivered
	Statuses map[string]string

	seq int
}

func NewMockClient() *MockClient {
	return &MockClient{
		Calls:    make([]MockCall, 0),
		FailFor:  make(map[string]error),
		Statuses: make(map[string]string),
	}
}

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) Send(ctx context.Context, to, body, senderID string) (*SendResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{To: to, Body: body, SenderID: senderID})

	if err := ctx.Err(); err != nil {
		return nil, errors.NewProviderError(errors.ProviderTimeout, "mock", err)
	}
	if m.FailNext {
		m.FailNext = false
		return nil, errors.NewProviderError(errors.ProviderUnavailable, "mock", nil)
	}
	if err, ok := m.FailFor[to]; ok {
		return nil, err
	}

	m.seq++
	return &SendResponse{
		MessageID: "mock-" + strconv.Itoa(m.seq),
		Status:    StatusQueued,
		Provider:  "mock",
		RequestID: "mock-request-" + strconv.Itoa(m.seq),
	}, nil
}

func (m *MockClient) Status(ctx context.Context, externalID string) (*StatusResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.Statuses[externalID]
	if !ok {
		status = StatusDelivered
	}
	return &StatusResponse{MessageID: externalID, Status: status, Raw: status}, nil
}

// SetStatus 设定某条消息的查询结果
func (m *MockClient) SetStatus(externalID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[externalID] = status
}

// SentTo 返回已发送过的号码（按调用顺序）
func (m *MockClient) SentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		out = append(out, c.To)
	}
	return out
}
