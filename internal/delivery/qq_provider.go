package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/qqbot-delivery/internal/account"
	"github.com/example/qqbot-delivery/internal/models"
	"github.com/example/qqbot-delivery/internal/payload"
)

const defaultMaxBodyBytes = 4096

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// QQOption customises the behaviour of the QQ provider.
type QQOption func(*QQProvider)

// WithHTTPClient overrides the HTTP client used to talk to the platform.
func WithHTTPClient(client HTTPClient) QQOption {
	return func(p *QQProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithBodyLimit adjusts how many bytes are retained from the HTTP response body.
func WithBodyLimit(limit int64) QQOption {
	return func(p *QQProvider) {
		if limit > 0 {
			p.maxBodyBytes = limit
		}
	}
}

// QQProvider implements Provider against the QQ open-platform message API.
// The per-account base URL and access token come from the roster, so one
// provider instance serves every configured account.
type QQProvider struct {
	logger       zerolog.Logger
	httpClient   HTTPClient
	maxBodyBytes int64
}

// NewQQProvider constructs a provider with the supplied request timeout.
func NewQQProvider(timeout time.Duration, logger zerolog.Logger, opts ...QQOption) *QQProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p := &QQProvider{
		logger:       logger,
		httpClient:   &http.Client{Timeout: timeout},
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

type textBody struct {
	MsgType string `json:"msg_type"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
}

type mediaBody struct {
	MsgType   string `json:"msg_type"`
	MediaType string `json:"media_type"`
	Source    string `json:"source"`
	Path      string `json:"path"`
	Caption   string `json:"caption,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

type apiResponse struct {
	MessageID string `json:"message_id"`
}

// SendText implements Provider.
func (p *QQProvider) SendText(ctx context.Context, acc account.Account, target models.Target, text, replyTo string) (*ProviderResult, error) {
	return p.post(ctx, acc, target, textBody{MsgType: "text", Content: text, ReplyTo: replyTo})
}

// SendMedia implements Provider.
func (p *QQProvider) SendMedia(ctx context.Context, acc account.Account, target models.Target, media payload.Media, replyTo string) (*ProviderResult, error) {
	return p.post(ctx, acc, target, mediaBody{
		MsgType:   "media",
		MediaType: media.MediaType,
		Source:    media.Source,
		Path:      media.Path,
		Caption:   media.Caption,
		ReplyTo:   replyTo,
	})
}

func (p *QQProvider) post(ctx context.Context, acc account.Account, target models.Target, body any) (*ProviderResult, error) {
	endpoint, err := messageEndpoint(acc.APIBaseURL, target)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("qq provider: marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("qq provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "QQBot "+acc.AccessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qq provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("qq provider: read response: %w", err)
	}

	result := &ProviderResult{
		StatusCode: resp.StatusCode,
		Raw:        string(raw),
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed apiResponse
		if err := json.Unmarshal(raw, &parsed); err == nil {
			result.PlatformMessageID = parsed.MessageID
		}
	}

	p.logger.Debug().
		Str("account", acc.ID).
		Str("target_type", target.Type).
		Str("target_address", target.Address).
		Int("status", resp.StatusCode).
		Msg("qq provider: message api call completed")

	return result, nil
}

func messageEndpoint(baseURL string, target models.Target) (string, error) {
	switch target.Type {
	case payload.TargetTypeC2C:
		return fmt.Sprintf("%s/v2/users/%s/messages", baseURL, target.Address), nil
	case payload.TargetTypeGroup:
		return fmt.Sprintf("%s/v2/groups/%s/messages", baseURL, target.Address), nil
	default:
		return "", errors.New("qq provider: unsupported target type " + target.Type)
	}
}
