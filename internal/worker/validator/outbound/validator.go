package outboundvalidator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/qqbot-delivery/internal/models"
	"github.com/example/qqbot-delivery/internal/util"
)

// Limits bound the metadata attached to an outbound event.
const (
	metaMaxEntries  = 20
	metaMaxKeyLen   = 64
	metaMaxValueLen = 256
)

// Validator parses JSON outbound events, enforces validation rules and
// returns a normalized OutboundEvent. The embedded AI text is not inspected
// here; interpreting it is the payload codec's job.
type Validator struct {
	logger zerolog.Logger
}

// New constructs a Validator.
func New(logger zerolog.Logger) *Validator {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Validator{logger: logger}
}

// ParseAndValidate implements worker.Validator.
func (v *Validator) ParseAndValidate(ctx context.Context, raw []byte) (*models.OutboundEvent, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(raw) == 0 {
		return nil, errors.New("outbound validator: payload is empty")
	}

	var event models.OutboundEvent
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&event); err != nil {
		return nil, fmt.Errorf("outbound validator: decode: %w", err)
	}

	if err := v.normalize(&event); err != nil {
		return &event, err
	}
	return &event, nil
}

func (v *Validator) normalize(event *models.OutboundEvent) error {
	event.MessageID = strings.TrimSpace(event.MessageID)
	if _, err := util.ParseUUIDv4(event.MessageID); err != nil {
		return fmt.Errorf("outbound validator: message_id: %w", err)
	}

	event.AccountID = strings.TrimSpace(event.AccountID)
	if event.AccountID == "" {
		return errors.New("outbound validator: account_id is required")
	}

	targetType, err := util.ValidateTargetType(event.TargetType)
	if err != nil {
		return fmt.Errorf("outbound validator: target_type: %w", err)
	}
	event.TargetType = targetType

	address, err := util.ValidateTargetAddress(event.TargetAddress)
	if err != nil {
		return fmt.Errorf("outbound validator: target_address: %w", err)
	}
	event.TargetAddress = address

	event.ReplyTo = strings.TrimSpace(event.ReplyTo)

	if event.Text == "" {
		return errors.New("outbound validator: text is required")
	}

	if event.CreatedAt.IsZero() {
		return errors.New("outbound validator: created_at is required")
	}
	event.CreatedAt = event.CreatedAt.UTC()

	meta, err := util.ValidateMetadata(event.Meta, metaMaxEntries, metaMaxKeyLen, metaMaxValueLen)
	if err != nil {
		return fmt.Errorf("outbound validator: metadata: %w", err)
	}
	event.Meta = meta

	return nil
}
