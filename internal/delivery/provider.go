package delivery

import (
	"context"

	"github.com/example/qqbot-delivery/internal/account"
	"github.com/example/qqbot-delivery/internal/models"
	"github.com/example/qqbot-delivery/internal/payload"
)

// Message is a routed outbound message after the payload codec has run.
// Exactly one of Text and Media is populated: Text for the plain conversation
// path, Media for a decoded media payload.
type Message struct {
	MessageID string
	AccountID string
	Target    models.Target
	ReplyTo   string
	Text      string
	Media     *payload.Media
}

// ProviderResult is the normalized outcome of a platform API call.
type ProviderResult struct {
	PlatformMessageID string
	StatusCode        int
	Raw               string
}

// Provider performs the actual platform API call for one message. Transport
// failures are returned as errors; HTTP-level failures come back in the
// result for the adapter to classify.
type Provider interface {
	SendText(ctx context.Context, acc account.Account, target models.Target, text, replyTo string) (*ProviderResult, error)
	SendMedia(ctx context.Context, acc account.Account, target models.Target, media payload.Media, replyTo string) (*ProviderResult, error)
}
