package models

import "time"

// Failure types for DLQ records.
const (
	FailureTypePermanent  = "permanent"
	FailureTypeTransient  = "transient"
	FailureTypeValidation = "validation"
	FailureTypeUnroutable = "unroutable"
	FailureTypeUnknown    = "unknown"
)

// DLQRecord captures an outbound event the relay gave up on, together with
// enough context for an operator to replay or discard it.
type DLQRecord struct {
	MessageID     string            `json:"message_id"`
	AccountID     string            `json:"account_id,omitempty"`
	Channel       string            `json:"channel"`
	OriginalEvent any               `json:"original_event"`
	Attempts      int               `json:"attempts"`
	FailureType   string            `json:"failure_type"`
	LastError     string            `json:"last_error,omitempty"`
	FirstFailedAt time.Time         `json:"first_failed_at"`
	LastAttemptAt time.Time         `json:"last_attempt_at"`
	Meta          map[string]string `json:"meta,omitempty"`
}
