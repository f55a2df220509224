package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/qqbot-delivery/internal/delivery"
	"github.com/example/qqbot-delivery/internal/directory"
	"github.com/example/qqbot-delivery/internal/models"
	"github.com/example/qqbot-delivery/internal/payload"
	"github.com/example/qqbot-delivery/internal/util"
)

// Meta key on the outbound event naming the reminder fire time (RFC3339).
const MetaRemindAt = "remind_at"

// Config contains the runtime settings the relay engine relies on to
// orchestrate routing, retries and DLQ handling.
type Config struct {
	MsgMaxBytes       int
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	WorkerConcurrency int
}

// Record represents a Kafka message delivered to the engine. It is a minimal
// abstraction that keeps the engine decoupled from the concrete consumer
// implementation while still exposing the data the engine requires.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	commit func(context.Context) error
}

// SetCommit binds the function invoked when the engine finishes processing
// the record and needs to commit the underlying offset.
func (r *Record) SetCommit(fn func(context.Context) error) {
	r.commit = fn
}

// Commit invokes the bound commit function, if any.
func (r *Record) Commit(ctx context.Context) error {
	if r == nil || r.commit == nil {
		return nil
	}
	return r.commit(ctx)
}

// Clone returns a deep copy of the record so it can be safely shared with
// asynchronous goroutines without risking data races.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Key = cloneBytes(r.Key)
	clone.Value = cloneBytes(r.Value)
	if len(r.Headers) > 0 {
		clone.Headers = cloneHeaders(r.Headers)
	}

	return &clone
}

// Validator parses and validates inbound outbound-event records.
type Validator interface {
	ParseAndValidate(ctx context.Context, raw []byte) (*models.OutboundEvent, error)
}

// Deliverer sends a routed message to the chat platform.
type Deliverer interface {
	Send(ctx context.Context, msg *delivery.Message) (*models.DeliveryReceipt, error)
}

// ReminderScheduler persists a reminder for later firing. Satisfied by
// scheduler.Store.
type ReminderScheduler interface {
	Add(ctx context.Context, rem models.Reminder) error
}

// StatusPublisher publishes lifecycle updates for a message.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

// DLQPublisher writes failed events to the DLQ topic.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, record models.DLQRecord) error
}

// Dependencies collects the runtime collaborators required by the engine.
type Dependencies struct {
	Validator       Validator
	Deliverer       Deliverer
	Scheduler       ReminderScheduler
	Directory       directory.Directory
	StatusPublisher StatusPublisher
	DLQPublisher    DLQPublisher
	Logger          zerolog.Logger
	Now             func() time.Time
	NewID           func() string
}

// Engine orchestrates validation, payload routing, retries, backoff, DLQ
// handling and offset commits for inbound outbound-event records.
type Engine struct {
	cfg       Config
	validator Validator
	deliverer Deliverer
	scheduler ReminderScheduler
	dir       directory.Directory
	status    StatusPublisher
	dlq       DLQPublisher
	logger    zerolog.Logger

	semaphore *semaphore.Weighted

	now   func() time.Time
	newID func() string

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewEngine constructs a relay engine using the supplied configuration and
// collaborators. The configuration and dependencies are validated to prevent
// misconfiguration at startup.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("worker: max attempts must be >= 1")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, errors.New("worker: worker concurrency must be >= 1")
	}
	if cfg.MsgMaxBytes < 0 {
		return nil, errors.New("worker: msg max bytes cannot be negative")
	}
	if deps.Validator == nil {
		return nil, errors.New("worker: validator dependency is required")
	}
	if deps.Deliverer == nil {
		return nil, errors.New("worker: deliverer dependency is required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("worker: scheduler dependency is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("worker: directory dependency is required")
	}
	if deps.StatusPublisher == nil {
		return nil, errors.New("worker: status publisher dependency is required")
	}
	if deps.DLQPublisher == nil {
		return nil, errors.New("worker: DLQ publisher dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "relay_engine").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	idFunc := deps.NewID
	if idFunc == nil {
		idFunc = defaultNewID
	}

	return &Engine{
		cfg:       cfg,
		validator: deps.Validator,
		deliverer: deps.Deliverer,
		scheduler: deps.Scheduler,
		dir:       deps.Directory,
		status:    deps.StatusPublisher,
		dlq:       deps.DLQPublisher,
		logger:    logger,
		semaphore: semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		now:       nowFunc,
		newID:     idFunc,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// HandleRecord performs upfront validation for record size, parses the event
// and triggers asynchronous routing with retry handling.
func (e *Engine) HandleRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}

	if e.cfg.MsgMaxBytes > 0 && len(record.Value) > e.cfg.MsgMaxBytes {
		err := fmt.Errorf("event exceeds maximum size: got %d bytes, limit %d bytes", len(record.Value), e.cfg.MsgMaxBytes)
		e.rejectRecord(ctx, record, nil, err)
		return
	}

	event, err := e.validator.ParseAndValidate(ctx, record.Value)
	if err != nil {
		e.rejectRecord(ctx, record, event, err)
		return
	}

	if err := e.semaphore.Acquire(ctx, 1); err != nil {
		e.logger.Error().
			Str("message_id", event.MessageID).
			Err(err).
			Msg("worker: failed to acquire concurrency semaphore")
		return
	}

	go e.processEvent(ctx, record.Clone(), event)
}

func (e *Engine) processEvent(ctx context.Context, record *Record, event *models.OutboundEvent) {
	defer e.semaphore.Release(1)

	if ctx.Err() != nil {
		e.logger.Warn().
			Str("message_id", event.MessageID).
			Msg("worker: context cancelled before processing began")
		return
	}

	e.publishStatus(ctx, event, models.StatusEventQueued, 0, nil, "")

	res := payload.Parse(event.Text)
	switch res.Outcome {
	case payload.OutcomeNotPayload:
		e.deliver(ctx, record, event, &delivery.Message{
			MessageID: event.MessageID,
			AccountID: event.AccountID,
			Target:    event.Target(),
			ReplyTo:   event.ReplyTo,
			Text:      res.Text,
		})

	case payload.OutcomeInvalid:
		// Malformed embedded payload. This is an operator concern, not a
		// delivery failure: the text is never forwarded to the target.
		e.logger.Warn().
			Str("message_id", event.MessageID).
			Str("reason", res.Reason).
			Msg("worker: rejecting malformed structured payload")
		e.publishStatus(ctx, event, models.StatusEventRejected, 0, nil, res.Reason)
		e.commitRecord(ctx, record)

	case payload.OutcomeValid:
		e.routePayload(ctx, record, event, res.Payload)
	}
}

func (e *Engine) routePayload(ctx context.Context, record *Record, event *models.OutboundEvent, p *payload.Payload) {
	switch payload.Classify(p) {
	case payload.ClassCronReminder:
		e.schedule(ctx, record, event, p.CronReminder)

	case payload.ClassMedia:
		e.deliver(ctx, record, event, &delivery.Message{
			MessageID: event.MessageID,
			AccountID: event.AccountID,
			Target:    event.Target(),
			ReplyTo:   event.ReplyTo,
			Media:     p.Media,
		})

	case payload.ClassUnknown:
		reason := fmt.Sprintf("no route for payload kind %q", p.Kind)
		e.logger.Warn().
			Str("message_id", event.MessageID).
			Str("kind", string(p.Kind)).
			Msg("worker: payload kind has no route in this version")
		e.publishStatus(ctx, event, models.StatusEventUnroutable, 0, nil, reason)
		now := e.now()
		e.publishDLQ(ctx, event, models.FailureTypeUnroutable, 0, reason, now, now)
		e.commitRecord(ctx, record)
	}
}

func (e *Engine) schedule(ctx context.Context, record *Record, event *models.OutboundEvent, rem *payload.CronReminder) {
	fireAt, err := util.ParseRFC3339(event.Meta[MetaRemindAt])
	if err != nil {
		reason := fmt.Sprintf("cron_reminder event missing usable %s meta: %v", MetaRemindAt, err)
		e.logger.Warn().
			Str("message_id", event.MessageID).
			Str("reason", reason).
			Msg("worker: rejecting reminder without a fire time")
		e.publishStatus(ctx, event, models.StatusEventRejected, 0, nil, reason)
		e.commitRecord(ctx, record)
		return
	}

	envelope, err := payload.EncodeDeferred(*rem)
	if err != nil {
		e.publishStatus(ctx, event, models.StatusEventRejected, 0, nil, err.Error())
		e.commitRecord(ctx, record)
		return
	}

	reminder := models.Reminder{
		ID:        e.newID(),
		AccountID: event.AccountID,
		Envelope:  envelope,
		FireAt:    fireAt.UTC(),
		CreatedAt: e.now().UTC(),
	}

	if err := e.scheduler.Add(ctx, reminder); err != nil {
		// Store failures are transient; leave the record uncommitted so the
		// event is replayed.
		e.logger.Error().
			Str("message_id", event.MessageID).
			Err(err).
			Msg("worker: failed to persist reminder; record will be reprocessed")
		return
	}

	e.markReplySeen(ctx, event)

	e.logger.Info().
		Str("message_id", event.MessageID).
		Str("reminder_id", reminder.ID).
		Time("fire_at", reminder.FireAt).
		Msg("worker: reminder scheduled")
	e.publishStatus(ctx, event, models.StatusEventScheduled, 0, nil, "")
	e.commitRecord(ctx, record)
}

func (e *Engine) deliver(ctx context.Context, record *Record, event *models.OutboundEvent, msg *delivery.Message) {
	e.markReplySeen(ctx, event)

	known, err := e.dir.IsKnown(ctx, event.AccountID, msg.Target)
	if err != nil {
		e.logger.Error().
			Str("message_id", event.MessageID).
			Err(err).
			Msg("worker: directory lookup failed; record will be reprocessed")
		return
	}
	if !known {
		reason := "target has never interacted with this account"
		now := e.now()
		e.publishStatus(ctx, event, models.StatusEventFailed, 0, nil, reason)
		e.publishDLQ(ctx, event, models.FailureTypePermanent, 0, reason, now, now)
		e.commitRecord(ctx, record)
		return
	}

	attempt := 1
	firstFailedAt := time.Time{}

	for {
		e.publishStatus(ctx, event, models.StatusEventAttempt, attempt, nil, "")
		start := e.now()
		receipt, err := e.deliverer.Send(ctx, msg)
		duration := e.now().Sub(start)

		logEvent := e.logger.With().
			Str("message_id", event.MessageID).
			Int("attempt", attempt).
			Dur("duration", duration).
			Logger()

		if err == nil {
			logEvent.Info().Str("delivery_id", receipt.DeliveryID).Msg("worker: message delivered")
			e.publishStatus(ctx, event, models.StatusEventSent, attempt, receipt, "")
			e.commitRecord(ctx, record)
			return
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logEvent.Warn().Err(err).Msg("worker: context cancelled during send; deferring commit for reprocessing")
			return
		}

		logEvent.Warn().Err(err).Msg("worker: delivery attempt failed")

		now := e.now()
		if firstFailedAt.IsZero() {
			firstFailedAt = now
		}

		if errors.Is(err, delivery.ErrPermanent) {
			e.publishStatus(ctx, event, models.StatusEventFailed, attempt, nil, err.Error())
			e.publishDLQ(ctx, event, models.FailureTypePermanent, attempt, err.Error(), firstFailedAt, now)
			e.commitRecord(ctx, record)
			return
		}

		if attempt >= e.cfg.MaxAttempts {
			e.publishStatus(ctx, event, models.StatusEventFailed, attempt, nil, err.Error())
			failureType := models.FailureTypeTransient
			if !errors.Is(err, delivery.ErrTransient) {
				failureType = models.FailureTypeUnknown
			}
			e.publishDLQ(ctx, event, failureType, attempt, err.Error(), firstFailedAt, now)
			e.commitRecord(ctx, record)
			return
		}

		backoff := e.computeBackoff(attempt)
		if backoff > 0 {
			logEvent.Info().Dur("backoff", backoff).Msg("worker: scheduling retry after transient error")
		}

		if !e.wait(ctx, backoff) {
			e.logger.Warn().
				Str("message_id", event.MessageID).
				Int("attempt", attempt).
				Msg("worker: context cancelled while waiting for retry; message will be retried on next poll")
			return
		}

		attempt++
	}
}

// markReplySeen records the event target as a known contact when the event is
// a reply, since a reply implies the target messaged the account first.
func (e *Engine) markReplySeen(ctx context.Context, event *models.OutboundEvent) {
	if event.ReplyTo == "" {
		return
	}
	if err := e.dir.MarkSeen(ctx, event.AccountID, event.Target()); err != nil {
		e.logger.Error().
			Str("message_id", event.MessageID).
			Err(err).
			Msg("worker: failed to mark target as seen")
	}
}

func (e *Engine) rejectRecord(ctx context.Context, record *Record, event *models.OutboundEvent, cause error) {
	if event == nil {
		event = &models.OutboundEvent{MessageID: string(record.Key)}
	}
	now := e.now()
	e.logger.Warn().
		Str("message_id", event.MessageID).
		Err(cause).
		Msg("worker: validation failed for record")
	e.publishStatus(ctx, event, models.StatusEventFailed, 0, nil, cause.Error())
	e.publishDLQ(ctx, event, models.FailureTypeValidation, 0, cause.Error(), now, now)
	e.commitRecord(ctx, record)
}

func (e *Engine) computeBackoff(attempt int) time.Duration {
	if e.cfg.BaseBackoff <= 0 {
		return 0
	}

	multiplier := math.Pow(2, float64(attempt-1))
	raw := time.Duration(float64(e.cfg.BaseBackoff) * multiplier)
	if e.cfg.MaxBackoff > 0 && raw > e.cfg.MaxBackoff {
		raw = e.cfg.MaxBackoff
	}

	return e.fullJitter(raw)
}

func (e *Engine) fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	e.randMu.Lock()
	defer e.randMu.Unlock()

	n := e.rnd.Int63n(int64(max) + 1)
	return time.Duration(n)
}

func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) publishStatus(ctx context.Context, event *models.OutboundEvent, eventType string, attempt int, receipt *models.DeliveryReceipt, errText string) {
	if e.status == nil || event == nil {
		return
	}
	status := models.StatusEvent{
		MessageID: event.MessageID,
		AccountID: event.AccountID,
		Channel:   models.ChannelRelay,
		EventType: eventType,
		Attempt:   attempt,
		Receipt:   receipt,
		Error:     errText,
		Timestamp: e.now(),
	}
	if err := e.status.PublishStatus(ctx, status); err != nil {
		e.logger.Error().
			Str("message_id", event.MessageID).
			Str("event", eventType).
			Err(err).
			Msg("worker: failed to publish status event")
	}
}

func (e *Engine) publishDLQ(ctx context.Context, event *models.OutboundEvent, failureType string, attempts int, lastError string, firstFailedAt, lastAttemptAt time.Time) {
	if e.dlq == nil || event == nil {
		return
	}
	record := models.DLQRecord{
		MessageID:     event.MessageID,
		AccountID:     event.AccountID,
		Channel:       models.ChannelRelay,
		OriginalEvent: event,
		Attempts:      attempts,
		FailureType:   failureType,
		LastError:     lastError,
		FirstFailedAt: firstFailedAt,
		LastAttemptAt: lastAttemptAt,
		Meta:          event.Meta,
	}
	if err := e.dlq.PublishDLQ(ctx, record); err != nil {
		e.logger.Error().
			Str("message_id", event.MessageID).
			Err(err).
			Msg("worker: failed to publish DLQ record")
	}
}

func (e *Engine) commitRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}
	if err := record.Commit(ctx); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to commit record offset")
	}
}

func defaultNewID() string {
	return uuid.NewString()
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}

func cloneHeaders(headers map[string][]byte) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	clone := make(map[string][]byte, len(headers))
	for k, v := range headers {
		clone[k] = cloneBytes(v)
	}
	return clone
}
