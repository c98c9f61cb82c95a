package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nantokaworks/guild-raffle/internal/env"
	"github.com/nantokaworks/guild-raffle/internal/notification"
)

type capturedRequest struct {
	auth     string
	clientID string
	body     sendChatRequest
}

func newChatServer(t *testing.T, response string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/messages" {
			http.NotFound(w, r)
			return
		}
		var body sendChatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			auth:     r.Header.Get("Authorization"),
			clientID: r.Header.Get("Client-Id"),
			body:     body,
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func testConfig() env.Config {
	return env.Config{
		ClientID:          "cid",
		TwitchUserID:      "1001",
		TwitchBotUserID:   "2002",
		TwitchAccessToken: "token",
	}
}

const sentResponse = `{"data":[{"message_id":"m1","is_sent":true}]}`

func TestSendChatMessage(t *testing.T) {
	srv, captured := newChatServer(t, sentResponse)
	c := NewChatClient(testConfig()).WithBaseURL(srv.URL)

	if err := c.SendChatMessage(context.Background(), "  hello chat  "); err != nil {
		t.Fatalf("send: %v", err)
	}

	reqs := captured()
	if len(reqs) != 1 {
		t.Fatalf("requests got=%d want=1", len(reqs))
	}
	r := reqs[0]
	if r.auth != "Bearer token" || r.clientID != "cid" {
		t.Fatalf("headers got=%q/%q", r.auth, r.clientID)
	}
	if r.body.BroadcasterID != "1001" || r.body.SenderID != "2002" || r.body.Message != "hello chat" {
		t.Fatalf("body got=%+v", r.body)
	}
	if r.body.ReplyParentMessageID != "" {
		t.Fatalf("reply parent got=%q want empty", r.body.ReplyParentMessageID)
	}
}

func TestReplySetsParent(t *testing.T) {
	srv, captured := newChatServer(t, sentResponse)
	c := NewChatClient(testConfig()).WithBaseURL(srv.URL)

	if err := c.Reply(context.Background(), "parent-1", "@alice hi"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got := captured()[0].body.ReplyParentMessageID; got != "parent-1" {
		t.Fatalf("parent got=%q want=parent-1", got)
	}
}

func TestSenderFallsBackToBroadcaster(t *testing.T) {
	cfg := testConfig()
	cfg.TwitchBotUserID = ""
	srv, captured := newChatServer(t, sentResponse)
	c := NewChatClient(cfg).WithBaseURL(srv.URL)

	if err := c.SendChatMessage(context.Background(), "x"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := captured()[0].body.SenderID; got != "1001" {
		t.Fatalf("sender got=%q want=1001", got)
	}
}

func TestSendChatMessageDropped(t *testing.T) {
	srv, _ := newChatServer(t, `{"data":[{"message_id":"","is_sent":false,"drop_reason":{"code":"msg_duplicate","message":"duplicate"}}]}`)
	c := NewChatClient(testConfig()).WithBaseURL(srv.URL)

	err := c.SendChatMessage(context.Background(), "x")
	if !errors.Is(err, ErrMessageDropped) {
		t.Fatalf("err got=%v want=%v", err, ErrMessageDropped)
	}
	if !strings.Contains(err.Error(), "msg_duplicate") {
		t.Fatalf("err should carry drop code: %v", err)
	}
}

func TestSendChatMessageStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	c := NewChatClient(testConfig()).WithBaseURL(srv.URL)

	if err := c.SendChatMessage(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for 401")
	}
}

func TestSendChatMessageNotConfigured(t *testing.T) {
	c := NewChatClient(env.Config{})
	if err := c.SendChatMessage(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err got=%v want=%v", err, ErrNotConfigured)
	}
}

func TestPublishSkipsLiveNotices(t *testing.T) {
	srv, captured := newChatServer(t, sentResponse)
	c := NewChatClient(testConfig()).WithBaseURL(srv.URL)
	ctx := context.Background()

	if err := c.Publish(ctx, notification.Notice{Type: notification.TypeLiveState, Message: "live", Live: true}); err != nil {
		t.Fatalf("publish live: %v", err)
	}
	if err := c.Publish(ctx, notification.Notice{Type: notification.TypeSessionSettled}); err != nil {
		t.Fatalf("publish empty: %v", err)
	}
	if err := c.Publish(ctx, notification.Notice{Type: notification.TypeSessionSettled, Message: "done"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	reqs := captured()
	if len(reqs) != 1 || reqs[0].body.Message != "done" {
		t.Fatalf("requests got=%+v want one \"done\"", reqs)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("あ", maxMessageRunes+10)
	if got := len([]rune(truncate(long))); got != maxMessageRunes {
		t.Fatalf("runes got=%d want=%d", got, maxMessageRunes)
	}
	if got := truncate("short"); got != "short" {
		t.Fatalf("got=%q want=short", got)
	}
}
