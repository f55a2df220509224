package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tailscale/hujson"

	"github.com/example/qqbot-delivery/internal/util"
)

// ErrUnknownAccount is returned when a lookup misses the roster.
var ErrUnknownAccount = errors.New("unknown account")

// Account describes one bot identity the relay can deliver through.
type Account struct {
	ID          string `json:"id"`
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
	// Disabled accounts stay in the roster so operators can park an
	// identity without losing its configuration.
	Disabled bool `json:"disabled,omitempty"`
}

type rosterFile struct {
	Accounts []Account `json:"accounts"`
}

// Roster holds the current set of bot accounts. The roster file uses HuJSON
// (JSON with comments and trailing commas) so operators can annotate entries.
// Reloads swap the whole map atomically under the lock.
type Roster struct {
	mu       sync.RWMutex
	path     string
	accounts map[string]Account
}

// LoadRoster reads and validates the roster file at path.
func LoadRoster(path string) (*Roster, error) {
	r := &Roster{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the roster file. On any error the previous roster is kept.
func (r *Roster) Reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("account roster: read %s: %w", r.path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("account roster: standardize %s: %w", r.path, err)
	}

	var file rosterFile
	if err := json.Unmarshal(std, &file); err != nil {
		return fmt.Errorf("account roster: parse %s: %w", r.path, err)
	}

	accounts := make(map[string]Account, len(file.Accounts))
	for i, acc := range file.Accounts {
		acc.ID = strings.TrimSpace(acc.ID)
		if acc.ID == "" {
			return fmt.Errorf("account roster: entry %d is missing an id", i)
		}
		if _, dup := accounts[acc.ID]; dup {
			return fmt.Errorf("account roster: duplicate account id %q", acc.ID)
		}
		if _, err := util.ValidateHTTPURL(acc.APIBaseURL); err != nil {
			return fmt.Errorf("account roster: account %q: api_base_url: %w", acc.ID, err)
		}
		acc.APIBaseURL = strings.TrimRight(strings.TrimSpace(acc.APIBaseURL), "/")
		if strings.TrimSpace(acc.AccessToken) == "" {
			return fmt.Errorf("account roster: account %q is missing an access token", acc.ID)
		}
		accounts[acc.ID] = acc
	}

	r.mu.Lock()
	r.accounts = accounts
	r.mu.Unlock()
	return nil
}

// Get returns the account for the given id. Disabled accounts are reported
// as unknown so callers treat them uniformly.
func (r *Roster) Get(id string) (Account, error) {
	r.mu.RLock()
	acc, ok := r.accounts[id]
	r.mu.RUnlock()
	if !ok || acc.Disabled {
		return Account{}, fmt.Errorf("%w: %q", ErrUnknownAccount, id)
	}
	return acc, nil
}

// Len reports the number of configured accounts, disabled ones included.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}
