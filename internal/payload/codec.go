package payload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Outcome enumerates the three results of interpreting raw AI output.
type Outcome int

const (
	// OutcomeNotPayload means the text is plain conversation and should be
	// delivered as-is. This is the common case, not an error.
	OutcomeNotPayload Outcome = iota
	// OutcomeInvalid means the text carried the payload marker but the
	// content was malformed.
	OutcomeInvalid
	// OutcomeValid means a fully validated payload was decoded.
	OutcomeValid
)

// Result is the discriminated outcome of Parse. Text is populated for
// OutcomeNotPayload (the original, untrimmed input), Reason for
// OutcomeInvalid, and Payload for OutcomeValid.
type Result struct {
	Outcome Outcome
	Text    string
	Reason  string
	Payload *Payload
}

// DeferredOutcome enumerates the results of DecodeDeferred.
type DeferredOutcome int

const (
	// DeferredNotDeferred means the message does not carry the deferred
	// marker.
	DeferredNotDeferred DeferredOutcome = iota
	// DeferredInvalid means the envelope was malformed.
	DeferredInvalid
	// DeferredValid means a cron_reminder payload was recovered.
	DeferredValid
)

// DeferredResult is the discriminated outcome of DecodeDeferred.
type DeferredResult struct {
	Outcome  DeferredOutcome
	Reason   string
	Reminder *CronReminder
}

// Parse interprets raw AI output. Text without the payload marker passes
// through untouched; marked text is decoded, field-validated per variant and
// returned as a typed payload. Parse never panics on malformed input: every
// failure is reported through the Result.
func Parse(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, PayloadMarker) {
		return Result{Outcome: OutcomeNotPayload, Text: raw}
	}

	body := strings.TrimSpace(trimmed[len(PayloadMarker):])
	if body == "" {
		return invalid("payload content is empty")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return invalid(fmt.Sprintf("JSON parse failed: %v", err))
	}

	kind := discriminator(fields)
	if kind == "" {
		return invalid("payload missing type field")
	}

	switch Kind(kind) {
	case KindCronReminder:
		rem := CronReminder{
			Content:           stringField(fields, "content"),
			TargetType:        stringField(fields, "targetType"),
			TargetAddress:     stringField(fields, "targetAddress"),
			OriginalMessageID: stringField(fields, "originalMessageId"),
		}
		if rem.Content == "" || rem.TargetType == "" || rem.TargetAddress == "" {
			return invalid("cron_reminder payload missing required fields (content, targetType, targetAddress)")
		}
		return Result{Outcome: OutcomeValid, Payload: &Payload{Kind: KindCronReminder, CronReminder: &rem}}

	case KindMedia:
		med := Media{
			MediaType: stringField(fields, "mediaType"),
			Source:    stringField(fields, "source"),
			Path:      stringField(fields, "path"),
			Caption:   stringField(fields, "caption"),
		}
		if med.MediaType == "" || med.Source == "" || med.Path == "" {
			return invalid("media payload missing required fields (mediaType, source, path)")
		}
		return Result{Outcome: OutcomeValid, Payload: &Payload{Kind: KindMedia, Media: &med}}

	default:
		// Unknown kinds are accepted structurally so that a newer generator
		// can introduce payload kinds ahead of this consumer.
		return Result{Outcome: OutcomeValid, Payload: &Payload{Kind: Kind(kind), Fields: fields}}
	}
}

// EncodeDeferred serialises a cron_reminder payload into an opaque string
// safe to store or transmit as a plain message body. The result round-trips
// exactly through DecodeDeferred.
func EncodeDeferred(rem CronReminder) (string, error) {
	if rem.Content == "" || rem.TargetType == "" || rem.TargetAddress == "" {
		return "", errors.New("cron_reminder payload missing required fields (content, targetType, targetAddress)")
	}

	wire := struct {
		Type string `json:"type"`
		CronReminder
	}{Type: string(KindCronReminder), CronReminder: rem}

	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode deferred payload: %w", err)
	}
	return DeferredMarker + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeDeferred recovers the cron_reminder payload from a deferred envelope
// previously produced by EncodeDeferred. Messages without the deferred marker
// are reported as DeferredNotDeferred; every decode failure is reported
// through the result rather than panicking.
func DecodeDeferred(message string) DeferredResult {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, DeferredMarker) {
		return DeferredResult{Outcome: DeferredNotDeferred}
	}

	body := strings.TrimSpace(trimmed[len(DeferredMarker):])
	if body == "" {
		return deferredInvalid("deferred payload content is empty")
	}

	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return deferredInvalid(fmt.Sprintf("deferred payload decode failed: %v", err))
	}
	if !utf8.Valid(decoded) {
		return deferredInvalid("deferred payload decode failed: invalid UTF-8")
	}

	var fields map[string]any
	if err := json.Unmarshal(decoded, &fields); err != nil {
		return deferredInvalid(fmt.Sprintf("deferred payload decode failed: %v", err))
	}

	kind := discriminator(fields)
	if Kind(kind) != KindCronReminder {
		return deferredInvalid(fmt.Sprintf("expected type cron_reminder, got %s", kind))
	}

	rem := CronReminder{
		Content:           stringField(fields, "content"),
		TargetType:        stringField(fields, "targetType"),
		TargetAddress:     stringField(fields, "targetAddress"),
		OriginalMessageID: stringField(fields, "originalMessageId"),
	}
	if rem.Content == "" || rem.TargetType == "" || rem.TargetAddress == "" {
		return deferredInvalid("deferred payload missing required fields")
	}

	return DeferredResult{Outcome: DeferredValid, Reminder: &rem}
}

func invalid(reason string) Result {
	return Result{Outcome: OutcomeInvalid, Reason: reason}
}

func deferredInvalid(reason string) DeferredResult {
	return DeferredResult{Outcome: DeferredInvalid, Reason: reason}
}

// discriminator reads the payload kind. The generator emits "type"; "kind"
// is accepted as an alias for older prompt templates.
func discriminator(fields map[string]any) string {
	if v := stringField(fields, "type"); v != "" {
		return v
	}
	return stringField(fields, "kind")
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
