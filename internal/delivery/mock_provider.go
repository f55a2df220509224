package delivery

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/qqbot-delivery/internal/account"
	"github.com/example/qqbot-delivery/internal/models"
	"github.com/example/qqbot-delivery/internal/payload"
)

// MockProvider is a Provider that records calls and answers with canned
// results. Used in development mode and tests.
type MockProvider struct {
	mu sync.Mutex

	// Result and Err, when set, are returned for every call.
	Result *ProviderResult
	Err    error

	TextCalls  []Message
	MediaCalls []Message
}

// NewMockProvider constructs a mock that acknowledges every message.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// SendText implements Provider.
func (m *MockProvider) SendText(_ context.Context, _ account.Account, target models.Target, text, replyTo string) (*ProviderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TextCalls = append(m.TextCalls, Message{Target: target, Text: text, ReplyTo: replyTo})
	return m.result()
}

// SendMedia implements Provider.
func (m *MockProvider) SendMedia(_ context.Context, _ account.Account, target models.Target, media payload.Media, replyTo string) (*ProviderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med := media
	m.MediaCalls = append(m.MediaCalls, Message{Target: target, Media: &med, ReplyTo: replyTo})
	return m.result()
}

func (m *MockProvider) result() (*ProviderResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		res := *m.Result
		return &res, nil
	}
	return &ProviderResult{StatusCode: 200, PlatformMessageID: uuid.NewString()}, nil
}
