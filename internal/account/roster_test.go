package account_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/qqbot-delivery/internal/account"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.hujson")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write roster file: %v", err)
	}
	return path
}

func TestLoadRosterHuJSON(t *testing.T) {
	path := writeRoster(t, `{
  // production bot
  "accounts": [
    {
      "id": "bot-main",
      "api_base_url": "https://api.example.com/v2/",
      "access_token": "tok-1",
    },
    {
      "id": "bot-staging",
      "api_base_url": "https://staging.example.com",
      "access_token": "tok-2",
      "disabled": true,
    },
  ],
}`)

	roster, err := account.LoadRoster(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if roster.Len() != 2 {
		t.Fatalf("expected 2 accounts, got %d", roster.Len())
	}

	acc, err := roster.Get("bot-main")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if acc.APIBaseURL != "https://api.example.com/v2" {
		t.Fatalf("expected trailing slash trimmed, got %q", acc.APIBaseURL)
	}

	if _, err := roster.Get("bot-staging"); !errors.Is(err, account.ErrUnknownAccount) {
		t.Fatalf("expected disabled account to look unknown, got %v", err)
	}
	if _, err := roster.Get("missing"); !errors.Is(err, account.ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestLoadRosterValidation(t *testing.T) {
	cases := map[string]string{
		"missing id":    `{"accounts":[{"id":"","api_base_url":"https://x","access_token":"t"}]}`,
		"duplicate id":  `{"accounts":[{"id":"a","api_base_url":"https://x","access_token":"t"},{"id":"a","api_base_url":"https://y","access_token":"t"}]}`,
		"bad url":       `{"accounts":[{"id":"a","api_base_url":"ftp://x","access_token":"t"}]}`,
		"missing token": `{"accounts":[{"id":"a","api_base_url":"https://x","access_token":""}]}`,
		"malformed":     `{"accounts":`,
	}

	for name, content := range cases {
		path := writeRoster(t, content)
		if _, err := account.LoadRoster(path); err == nil {
			t.Fatalf("%s: expected load error", name)
		}
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := writeRoster(t, `{"accounts":[{"id":"a","api_base_url":"https://x","access_token":"t"}]}`)

	roster, err := account.LoadRoster(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"accounts":[{"id":""}]}`), 0o600); err != nil {
		t.Fatalf("rewrite roster file: %v", err)
	}
	if err := roster.Reload(); err == nil {
		t.Fatal("expected reload error")
	}

	if _, err := roster.Get("a"); err != nil {
		t.Fatalf("expected previous roster retained, got %v", err)
	}
}
