package outboundvalidator_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	outboundvalidator "github.com/example/qqbot-delivery/internal/worker/validator/outbound"
)

const validEvent = `{
  "message_id": "b0c9c2b0-1f3a-4d2d-9e3f-123456789abc",
  "account_id": "bot-main",
  "target_type": "C2C",
  "target_address": " u-1001 ",
  "reply_to": "orig-1",
  "text": "hello there",
  "created_at": "2025-10-11T10:00:00+02:00",
  "meta": {"remind_at": "2025-10-11T12:00:00Z"}
}`

func newValidator() *outboundvalidator.Validator {
	return outboundvalidator.New(zerolog.New(io.Discard))
}

func TestParseAndValidateSuccess(t *testing.T) {
	event, err := newValidator().ParseAndValidate(context.Background(), []byte(validEvent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if event.TargetType != "c2c" {
		t.Fatalf("expected normalized target type, got %q", event.TargetType)
	}
	if event.TargetAddress != "u-1001" {
		t.Fatalf("expected trimmed address, got %q", event.TargetAddress)
	}
	if event.CreatedAt.Location() != event.CreatedAt.UTC().Location() {
		t.Fatal("expected created_at normalized to UTC")
	}
	if event.Meta["remind_at"] != "2025-10-11T12:00:00Z" {
		t.Fatalf("unexpected meta: %+v", event.Meta)
	}
}

func TestParseAndValidateFailures(t *testing.T) {
	cases := map[string]string{
		"empty payload":   ``,
		"not json":        `not-json`,
		"unknown field":   strings.Replace(validEvent, `"meta"`, `"extra": 1, "meta"`, 1),
		"bad message id":  strings.Replace(validEvent, "b0c9c2b0-1f3a-4d2d-9e3f-123456789abc", "nope", 1),
		"bad target type": strings.Replace(validEvent, `"C2C"`, `"channel"`, 1),
		"missing text":    strings.Replace(validEvent, `"hello there"`, `""`, 1),
		"no account":      strings.Replace(validEvent, `"bot-main"`, `""`, 1),
	}

	v := newValidator()
	for name, raw := range cases {
		if _, err := v.ParseAndValidate(context.Background(), []byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
