package payload

// Wire markers recognised by the codec. They are fixed for the lifetime of
// the process and shared with the AI prompt templates that teach the model to
// emit them.
const (
	// PayloadMarker prefixes an immediate structured payload embedded in a
	// chat message body.
	PayloadMarker = "QQBOT_PAYLOAD:"
	// DeferredMarker prefixes a base64-wrapped cron_reminder payload stored
	// for later redelivery.
	DeferredMarker = "QQBOT_CRON:"
)

// Kind discriminates the payload variants carried on the wire.
type Kind string

const (
	// KindCronReminder identifies a scheduled reminder payload.
	KindCronReminder Kind = "cron_reminder"
	// KindMedia identifies a media delivery payload.
	KindMedia Kind = "media"
)

// Target types addressable by a reminder.
const (
	TargetTypeC2C   = "c2c"
	TargetTypeGroup = "group"
)

// Media type and source values accepted by the media variant.
const (
	MediaTypeImage = "image"
	MediaTypeAudio = "audio"
	MediaTypeVideo = "video"

	MediaSourceURL  = "url"
	MediaSourceFile = "file"
)

// CronReminder is the payload variant describing a message to be delivered to
// a target at a later time. The fire time itself travels outside the payload;
// the payload only carries what to say and to whom.
type CronReminder struct {
	Content           string `json:"content"`
	TargetType        string `json:"targetType"`
	TargetAddress     string `json:"targetAddress"`
	OriginalMessageID string `json:"originalMessageId,omitempty"`
}

// Media is the payload variant instructing the delivery layer to send a media
// attachment instead of plain text.
type Media struct {
	MediaType string `json:"mediaType"`
	Source    string `json:"source"`
	Path      string `json:"path"`
	Caption   string `json:"caption,omitempty"`
}

// Payload is the decoded tagged union. Exactly one variant pointer is
// populated for the known kinds; unrecognised kinds keep their raw fields in
// Fields so a newer generator can talk to this consumer without being
// rejected.
type Payload struct {
	Kind         Kind
	CronReminder *CronReminder
	Media        *Media

	// Fields holds the raw decoded object for unknown kinds. Nil for the
	// known variants.
	Fields map[string]any
}

// Class is the routing classification of a validated payload.
type Class int

const (
	// ClassUnknown covers kinds this protocol version does not recognise.
	ClassUnknown Class = iota
	// ClassCronReminder routes to the reminder scheduler.
	ClassCronReminder
	// ClassMedia routes to the media delivery path.
	ClassMedia
)

// String returns the class name for logging.
func (c Class) String() string {
	switch c {
	case ClassCronReminder:
		return "cron_reminder"
	case ClassMedia:
		return "media"
	default:
		return "unknown"
	}
}

// Classify reports which handling path a validated payload belongs to. It is
// a pure discriminator test: field validation already happened in Parse or
// DecodeDeferred and is not repeated here.
func Classify(p *Payload) Class {
	if p == nil {
		return ClassUnknown
	}
	switch p.Kind {
	case KindCronReminder:
		return ClassCronReminder
	case KindMedia:
		return ClassMedia
	default:
		return ClassUnknown
	}
}
