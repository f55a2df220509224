package scheduler_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/qqbot-delivery/internal/delivery"
	"github.com/example/qqbot-delivery/internal/directory"
	"github.com/example/qqbot-delivery/internal/models"
	"github.com/example/qqbot-delivery/internal/payload"
	"github.com/example/qqbot-delivery/internal/scheduler"
)

type senderStub struct {
	mu    sync.Mutex
	sent  []delivery.Message
	err   error
	calls int
}

func (s *senderStub) Send(_ context.Context, msg *delivery.Message) (*models.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, *msg)
	return &models.DeliveryReceipt{DeliveryID: "d-1", Timestamp: time.Unix(0, 0)}, nil
}

type statusStub struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func (s *statusStub) PublishStatus(_ context.Context, event models.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func mustEnvelope(t *testing.T, rem payload.CronReminder) string {
	t.Helper()
	env, err := payload.EncodeDeferred(rem)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return env
}

func newDispatcher(t *testing.T, store scheduler.Store, sender scheduler.Sender, dir directory.Directory, status scheduler.StatusPublisher, now time.Time) *scheduler.Dispatcher {
	t.Helper()
	d, err := scheduler.NewDispatcher(scheduler.Config{PollInterval: time.Minute, BatchLimit: 10}, scheduler.Dependencies{
		Store:           store,
		Sender:          sender,
		Directory:       dir,
		StatusPublisher: status,
		Logger:          zerolog.New(io.Discard),
		Now:             func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestMemoryStoreDueOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	store := scheduler.NewMemoryStore()
	base := time.Date(2025, 10, 11, 10, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute, time.Hour} {
		rem := models.Reminder{
			ID:       string(rune('a' + i)),
			FireAt:   base.Add(offset),
			Envelope: "QQBOT_CRON:x",
		}
		if err := store.Add(ctx, rem); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	due, err := store.Due(ctx, base.Add(5*time.Minute), 2)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due reminders, got %d", len(due))
	}
	if due[0].ID != "b" || due[1].ID != "c" {
		t.Fatalf("expected oldest first, got %s then %s", due[0].ID, due[1].ID)
	}
}

func TestDispatcherDeliversDueReminderOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 11, 10, 0, 0, 0, time.UTC)

	store := scheduler.NewMemoryStore()
	dir := directory.NewMemory()
	sender := &senderStub{}
	status := &statusStub{}

	target := models.Target{Type: "c2c", Address: "u-1"}
	if err := dir.MarkSeen(ctx, "bot-main", target); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	envelope := mustEnvelope(t, payload.CronReminder{
		Content:           "stretch",
		TargetType:        "c2c",
		TargetAddress:     "u-1",
		OriginalMessageID: "orig-1",
	})
	rem := models.Reminder{ID: "r-1", AccountID: "bot-main", Envelope: envelope, FireAt: now.Add(-time.Minute)}
	if err := store.Add(ctx, rem); err != nil {
		t.Fatalf("add: %v", err)
	}

	d := newDispatcher(t, store, sender, dir, status, now)
	d.Poll(ctx)

	if len(sender.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sender.sent))
	}
	sent := sender.sent[0]
	if sent.Text != "stretch" || sent.Target != target || sent.ReplyTo != "orig-1" || sent.AccountID != "bot-main" {
		t.Fatalf("unexpected delivered message: %+v", sent)
	}

	// Consumed exactly once: a second poll finds nothing.
	d.Poll(ctx)
	if len(sender.sent) != 1 {
		t.Fatalf("expected reminder consumed once, got %d deliveries", len(sender.sent))
	}

	if len(status.events) != 1 || status.events[0].EventType != models.StatusEventSent {
		t.Fatalf("unexpected status events: %+v", status.events)
	}
}

func TestDispatcherDiscardsUndecodableEnvelope(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 11, 10, 0, 0, 0, time.UTC)

	store := scheduler.NewMemoryStore()
	sender := &senderStub{}
	status := &statusStub{}

	rem := models.Reminder{ID: "r-2", AccountID: "bot-main", Envelope: "QQBOT_CRON:!!!not-base64!!!", FireAt: now.Add(-time.Second)}
	if err := store.Add(ctx, rem); err != nil {
		t.Fatalf("add: %v", err)
	}

	d := newDispatcher(t, store, sender, directory.NewMemory(), status, now)
	d.Poll(ctx)

	if sender.calls != 0 {
		t.Fatal("expected no delivery attempt for undecodable envelope")
	}
	if due, _ := store.Due(ctx, now.Add(time.Hour), 0); len(due) != 0 {
		t.Fatalf("expected envelope removed, still due: %+v", due)
	}
	if len(status.events) != 1 || status.events[0].EventType != models.StatusEventRejected {
		t.Fatalf("unexpected status events: %+v", status.events)
	}
}

func TestDispatcherKeepsReminderOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 11, 10, 0, 0, 0, time.UTC)

	store := scheduler.NewMemoryStore()
	dir := directory.NewMemory()
	sender := &senderStub{err: delivery.WrapTransient(nil)}

	target := models.Target{Type: "group", Address: "g-1"}
	if err := dir.MarkSeen(ctx, "bot-main", target); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	envelope := mustEnvelope(t, payload.CronReminder{Content: "ship it", TargetType: "group", TargetAddress: "g-1"})
	if err := store.Add(ctx, models.Reminder{ID: "r-3", AccountID: "bot-main", Envelope: envelope, FireAt: now.Add(-time.Second)}); err != nil {
		t.Fatalf("add: %v", err)
	}

	d := newDispatcher(t, store, sender, dir, nil, now)
	d.Poll(ctx)

	if due, _ := store.Due(ctx, now.Add(time.Hour), 0); len(due) != 1 {
		t.Fatalf("expected reminder retained for retry, due=%d", len(due))
	}

	// Permanent failure on the next poll discards it.
	sender.err = delivery.WrapPermanent(nil)
	d.Poll(ctx)
	if due, _ := store.Due(ctx, now.Add(time.Hour), 0); len(due) != 0 {
		t.Fatal("expected reminder discarded after permanent failure")
	}
}

func TestDispatcherDiscardsUnknownTarget(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 11, 10, 0, 0, 0, time.UTC)

	store := scheduler.NewMemoryStore()
	sender := &senderStub{}

	envelope := mustEnvelope(t, payload.CronReminder{Content: "hello", TargetType: "c2c", TargetAddress: "u-stranger"})
	if err := store.Add(ctx, models.Reminder{ID: "r-4", AccountID: "bot-main", Envelope: envelope, FireAt: now.Add(-time.Second)}); err != nil {
		t.Fatalf("add: %v", err)
	}

	d := newDispatcher(t, store, sender, directory.NewMemory(), nil, now)
	d.Poll(ctx)

	if sender.calls != 0 {
		t.Fatal("expected no delivery attempt for unknown target")
	}
	if due, _ := store.Due(ctx, now.Add(time.Hour), 0); len(due) != 0 {
		t.Fatal("expected reminder discarded for unknown target")
	}
}
