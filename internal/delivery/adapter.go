package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/qqbot-delivery/internal/account"
	"github.com/example/qqbot-delivery/internal/models"
)

// Adapter sends routed messages through a Provider, resolving the bot
// account from the roster and classifying platform failures with the
// transient/permanent sentinels so the worker can decide on retries.
type Adapter struct {
	logger   zerolog.Logger
	roster   *account.Roster
	provider Provider
	now      func() time.Time
}

// AdapterOption customises adapter behaviour.
type AdapterOption func(*Adapter)

// WithClock overrides the clock used for receipt timestamps.
func WithClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAdapter constructs a delivery adapter using the provided dependencies.
func NewAdapter(roster *account.Roster, provider Provider, logger zerolog.Logger, opts ...AdapterOption) (*Adapter, error) {
	if roster == nil {
		return nil, errors.New("delivery adapter: roster dependency is required")
	}
	if provider == nil {
		return nil, errors.New("delivery adapter: provider dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:   logger,
		roster:   roster,
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Send delivers the message and returns a receipt on success. Failures are
// wrapped with the sentinel markers: unknown accounts and 4xx responses are
// permanent, network errors and 429/5xx responses transient.
func (a *Adapter) Send(ctx context.Context, msg *Message) (*models.DeliveryReceipt, error) {
	if msg == nil {
		return nil, WrapPermanent(errors.New("delivery adapter: message is nil"))
	}
	if msg.Text == "" && msg.Media == nil {
		return nil, WrapPermanent(errors.New("delivery adapter: message has no content"))
	}

	acc, err := a.roster.Get(msg.AccountID)
	if err != nil {
		return nil, WrapPermanent(err)
	}

	var result *ProviderResult
	if msg.Media != nil {
		result, err = a.provider.SendMedia(ctx, acc, msg.Target, *msg.Media, msg.ReplyTo)
	} else {
		result, err = a.provider.SendText(ctx, acc, msg.Target, msg.Text, msg.ReplyTo)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, WrapTransient(err)
	}
	if result == nil {
		return nil, WrapTransient(errors.New("delivery adapter: provider returned no result"))
	}

	if result.StatusCode < 200 || result.StatusCode >= 300 {
		err := fmt.Errorf("delivery adapter: platform returned status %d: %s", result.StatusCode, result.Raw)
		if isTransientStatus(result.StatusCode) {
			return nil, WrapTransient(err)
		}
		return nil, WrapPermanent(err)
	}

	receipt := &models.DeliveryReceipt{
		DeliveryID:        uuid.NewString(),
		PlatformMessageID: result.PlatformMessageID,
		Timestamp:         a.now().UTC(),
	}

	a.logger.Debug().
		Str("message_id", msg.MessageID).
		Str("delivery_id", receipt.DeliveryID).
		Str("target_type", msg.Target.Type).
		Str("target_address", msg.Target.Address).
		Msg("delivery adapter: message delivered")

	return receipt, nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
