package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/qqbot-delivery/internal/account"
	"github.com/example/qqbot-delivery/internal/delivery"
	"github.com/example/qqbot-delivery/internal/models"
	"github.com/example/qqbot-delivery/internal/payload"
)

type httpStub struct {
	lastReq *http.Request
	status  int
	body    string
}

func (s *httpStub) Do(req *http.Request) (*http.Response, error) {
	s.lastReq = req
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Header:     make(http.Header),
	}, nil
}

func TestQQProviderSendText(t *testing.T) {
	stub := &httpStub{status: 200, body: `{"message_id":"pm-9"}`}
	provider := delivery.NewQQProvider(time.Second, zerolog.New(io.Discard), delivery.WithHTTPClient(stub))

	acc := account.Account{ID: "bot-main", APIBaseURL: "https://api.example.com", AccessToken: "tok"}
	res, err := provider.SendText(context.Background(), acc, models.Target{Type: "c2c", Address: "u-7"}, "hi", "r-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != 200 || res.PlatformMessageID != "pm-9" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if got := stub.lastReq.URL.String(); got != "https://api.example.com/v2/users/u-7/messages" {
		t.Fatalf("unexpected endpoint %q", got)
	}
	if got := stub.lastReq.Header.Get("Authorization"); got != "QQBot tok" {
		t.Fatalf("unexpected authorization header %q", got)
	}

	var body map[string]any
	data, _ := io.ReadAll(stub.lastReq.Body)
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("request body is not json: %v", err)
	}
	if body["msg_type"] != "text" || body["content"] != "hi" || body["reply_to"] != "r-1" {
		t.Fatalf("unexpected request body: %v", body)
	}
}

func TestQQProviderSendMediaGroupEndpoint(t *testing.T) {
	stub := &httpStub{status: 200, body: `{}`}
	provider := delivery.NewQQProvider(time.Second, zerolog.New(io.Discard), delivery.WithHTTPClient(stub))

	acc := account.Account{ID: "bot-main", APIBaseURL: "https://api.example.com", AccessToken: "tok"}
	med := payload.Media{MediaType: "video", Source: "file", Path: "/tmp/v.mp4"}
	if _, err := provider.SendMedia(context.Background(), acc, models.Target{Type: "group", Address: "g-3"}, med, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := stub.lastReq.URL.String(); got != "https://api.example.com/v2/groups/g-3/messages" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}

func TestQQProviderUnsupportedTargetType(t *testing.T) {
	provider := delivery.NewQQProvider(time.Second, zerolog.New(io.Discard), delivery.WithHTTPClient(&httpStub{status: 200}))

	acc := account.Account{ID: "bot-main", APIBaseURL: "https://api.example.com", AccessToken: "tok"}
	if _, err := provider.SendText(context.Background(), acc, models.Target{Type: "channel", Address: "c-1"}, "hi", ""); err == nil {
		t.Fatal("expected error for unsupported target type")
	}
}
