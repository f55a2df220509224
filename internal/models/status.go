package models

import "time"

// Status event constants.
const (
	StatusEventQueued     = "queued"
	StatusEventAttempt    = "attempt"
	StatusEventSent       = "sent"
	StatusEventScheduled  = "scheduled"
	StatusEventRejected   = "rejected"
	StatusEventUnroutable = "unroutable"
	StatusEventFailed     = "failed"
	StatusEventDLQ        = "dlq"
)

// StatusEvent represents lifecycle events emitted for outbound messages.
// Rejected marks a malformed embedded payload (an operator concern, not a
// delivery failure); Unroutable marks a payload of a kind this version cannot
// route.
type StatusEvent struct {
	MessageID string           `json:"message_id"`
	AccountID string           `json:"account_id,omitempty"`
	Channel   string           `json:"channel"`
	EventType string           `json:"event_type"`
	Attempt   int              `json:"attempt,omitempty"`
	Receipt   *DeliveryReceipt `json:"receipt,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
