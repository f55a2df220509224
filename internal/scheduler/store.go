package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/qqbot-delivery/internal/models"
)

// Store persists scheduled reminders between the moment they are encoded and
// the moment they fire. Implementations never look inside the envelope; the
// payload codec is the only component that interprets it.
type Store interface {
	Add(ctx context.Context, rem models.Reminder) error
	Due(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
	Remove(ctx context.Context, id string) error
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	reminders map[string]models.Reminder
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reminders: make(map[string]models.Reminder)}
}

// Add implements Store.
func (m *MemoryStore) Add(_ context.Context, rem models.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[rem.ID] = rem
	return nil
}

// Due implements Store. Reminders are returned oldest first.
func (m *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []models.Reminder
	for _, rem := range m.reminders {
		if !rem.FireAt.After(now) {
			due = append(due, rem)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Remove implements Store.
func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reminders, id)
	return nil
}
