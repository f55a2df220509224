package models

import "time"

// Channel name used in status and DLQ records emitted by the relay.
const ChannelRelay = "relay"

// Target identifies the addressable recipient of a delivered message.
type Target struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

// OutboundEvent is the Kafka record body produced by the AI front-end for
// every generated reply. Text carries the raw model output, which may embed a
// structured payload recognised by the codec.
type OutboundEvent struct {
	MessageID     string            `json:"message_id"`
	AccountID     string            `json:"account_id"`
	TargetType    string            `json:"target_type"`
	TargetAddress string            `json:"target_address"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Text          string            `json:"text"`
	CreatedAt     time.Time         `json:"created_at"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// Target returns the event destination as a Target descriptor.
func (e *OutboundEvent) Target() Target {
	return Target{Type: e.TargetType, Address: e.TargetAddress}
}

// DeliveryReceipt is returned by the delivery layer after the platform
// acknowledges a message.
type DeliveryReceipt struct {
	DeliveryID        string    `json:"delivery_id"`
	PlatformMessageID string    `json:"platform_message_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Reminder is the scheduler's persisted record: an opaque deferred envelope
// plus the metadata needed to fire it. The envelope is only ever interpreted
// through the payload codec.
type Reminder struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Envelope  string    `json:"envelope"`
	FireAt    time.Time `json:"fire_at"`
	CreatedAt time.Time `json:"created_at"`
}
