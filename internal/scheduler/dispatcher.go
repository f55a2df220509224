package scheduler

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/qqbot-delivery/internal/delivery"
	"github.com/example/qqbot-delivery/internal/directory"
	"github.com/example/qqbot-delivery/internal/models"
	"github.com/example/qqbot-delivery/internal/payload"
)

// Sender is the delivery capability the dispatcher needs.
type Sender interface {
	Send(ctx context.Context, msg *delivery.Message) (*models.DeliveryReceipt, error)
}

// StatusPublisher receives lifecycle events for fired reminders.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

// Config controls dispatcher polling.
type Config struct {
	PollInterval time.Duration
	BatchLimit   int
}

// Dependencies collects the runtime collaborators required by the dispatcher.
type Dependencies struct {
	Store           Store
	Sender          Sender
	Directory       directory.Directory
	StatusPublisher StatusPublisher
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Dispatcher polls the reminder store and redelivers due reminders through
// the delivery adapter. Each envelope is consumed exactly once: undecodable
// or permanently undeliverable reminders are removed, transient failures stay
// in the store for the next poll.
type Dispatcher struct {
	cfg    Config
	store  Store
	sender Sender
	dir    directory.Directory
	status StatusPublisher
	logger zerolog.Logger
	now    func() time.Time
}

// NewDispatcher constructs a dispatcher and validates its dependencies.
func NewDispatcher(cfg Config, deps Dependencies) (*Dispatcher, error) {
	if deps.Store == nil {
		return nil, errors.New("scheduler: store dependency is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("scheduler: sender dependency is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("scheduler: directory dependency is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "reminder_dispatcher").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Dispatcher{
		cfg:    cfg,
		store:  deps.Store,
		sender: deps.Sender,
		dir:    deps.Directory,
		status: deps.StatusPublisher,
		logger: logger,
		now:    nowFunc,
	}, nil
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll processes one batch of due reminders. Exposed for tests and for
// callers that drive their own schedule.
func (d *Dispatcher) Poll(ctx context.Context) {
	due, err := d.store.Due(ctx, d.now(), d.cfg.BatchLimit)
	if err != nil {
		d.logger.Error().Err(err).Msg("scheduler: failed to fetch due reminders")
		return
	}

	for _, rem := range due {
		if ctx.Err() != nil {
			return
		}
		d.fire(ctx, rem)
	}
}

func (d *Dispatcher) fire(ctx context.Context, rem models.Reminder) {
	res := payload.DecodeDeferred(rem.Envelope)
	switch res.Outcome {
	case payload.DeferredValid:
	case payload.DeferredInvalid:
		d.logger.Warn().
			Str("reminder_id", rem.ID).
			Str("reason", res.Reason).
			Msg("scheduler: discarding undecodable reminder envelope")
		d.remove(ctx, rem.ID)
		d.publishStatus(ctx, rem, models.StatusEventRejected, res.Reason, nil)
		return
	default:
		// A stored reminder without the deferred marker means the writer was
		// not this codec; discard rather than guessing.
		d.logger.Warn().
			Str("reminder_id", rem.ID).
			Msg("scheduler: stored record is not a deferred envelope; discarding")
		d.remove(ctx, rem.ID)
		return
	}

	target := models.Target{Type: res.Reminder.TargetType, Address: res.Reminder.TargetAddress}

	known, err := d.dir.IsKnown(ctx, rem.AccountID, target)
	if err != nil {
		d.logger.Error().Err(err).Str("reminder_id", rem.ID).Msg("scheduler: directory lookup failed; will retry")
		return
	}
	if !known {
		d.logger.Warn().
			Str("reminder_id", rem.ID).
			Str("target_type", target.Type).
			Str("target_address", target.Address).
			Msg("scheduler: reminder target is not a known contact; discarding")
		d.remove(ctx, rem.ID)
		d.publishStatus(ctx, rem, models.StatusEventFailed, "target unknown to directory", nil)
		return
	}

	msg := &delivery.Message{
		MessageID: rem.ID,
		AccountID: rem.AccountID,
		Target:    target,
		ReplyTo:   res.Reminder.OriginalMessageID,
		Text:      res.Reminder.Content,
	}

	receipt, err := d.sender.Send(ctx, msg)
	if err != nil {
		if errors.Is(err, delivery.ErrPermanent) {
			d.logger.Warn().Err(err).Str("reminder_id", rem.ID).Msg("scheduler: permanent delivery failure; discarding reminder")
			d.remove(ctx, rem.ID)
			d.publishStatus(ctx, rem, models.StatusEventFailed, err.Error(), nil)
			return
		}
		d.logger.Warn().Err(err).Str("reminder_id", rem.ID).Msg("scheduler: transient delivery failure; will retry on next poll")
		return
	}

	d.logger.Info().
		Str("reminder_id", rem.ID).
		Str("delivery_id", receipt.DeliveryID).
		Msg("scheduler: reminder delivered")
	d.remove(ctx, rem.ID)
	d.publishStatus(ctx, rem, models.StatusEventSent, "", receipt)
}

func (d *Dispatcher) remove(ctx context.Context, id string) {
	if err := d.store.Remove(ctx, id); err != nil {
		d.logger.Error().Err(err).Str("reminder_id", id).Msg("scheduler: failed to remove reminder")
	}
}

func (d *Dispatcher) publishStatus(ctx context.Context, rem models.Reminder, eventType, errText string, receipt *models.DeliveryReceipt) {
	if d.status == nil {
		return
	}
	event := models.StatusEvent{
		MessageID: rem.ID,
		AccountID: rem.AccountID,
		Channel:   models.ChannelRelay,
		EventType: eventType,
		Receipt:   receipt,
		Error:     errText,
		Timestamp: d.now(),
	}
	if err := d.status.PublishStatus(ctx, event); err != nil {
		d.logger.Error().Err(err).Str("reminder_id", rem.ID).Msg("scheduler: failed to publish status event")
	}
}
