package directory

import (
	"context"
	"sync"

	"github.com/example/qqbot-delivery/internal/models"
)

// Directory answers whether a target has interacted with an account before.
// The platform rejects outbound messages to never-seen targets, so the relay
// consults the directory before every delivery attempt.
type Directory interface {
	IsKnown(ctx context.Context, accountID string, target models.Target) (bool, error)
	MarkSeen(ctx context.Context, accountID string, target models.Target) error
}

// Memory is a process-local Directory used in development and tests.
type Memory struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemory constructs an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

// IsKnown implements Directory.
func (m *Memory) IsKnown(_ context.Context, accountID string, target models.Target) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[memberKey(accountID, target)]
	return ok, nil
}

// MarkSeen implements Directory.
func (m *Memory) MarkSeen(_ context.Context, accountID string, target models.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[memberKey(accountID, target)] = struct{}{}
	return nil
}

func memberKey(accountID string, target models.Target) string {
	return accountID + "|" + target.Type + "|" + target.Address
}
