package agentmail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Agent-Arena/internal/tools"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "am_test", InboxID: "agent@arena.dev", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.httpClient = srv.Client()
	return c
}

func TestCountPositiveReplies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("labels"); got != "received" {
			t.Errorf("expected received label, got %q", got)
		}
		_, _ = w.Write([]byte(`{"messages":[
			{"message_id":"1","subject":"Re: demo","text":"Sounds good, let's talk"},
			{"message_id":"2","subject":"Re: demo","preview":"Not now, thanks"},
			{"message_id":"3","subject":"Booking","text":"Count me in"}
		]}`))
	})
	n, err := c.CountPositiveReplies(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 positive replies, got %d", n)
	}
}

func TestSendReturnsSentResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/inboxes/agent@arena.dev/messages/send" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}
		_, _ = w.Write([]byte(`{"message_id":"m-1"}`))
	})
	res, err := c.Send(context.Background(), tools.Email{To: "lead@corp.com", Subject: "Hi", Body: "Let's chat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status() != tools.StatusSent || res["to"] != "lead@corp.com" || res["message_id"] != "m-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCheckInboxHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})
	if _, err := c.CheckInbox(context.Background()); err == nil {
		t.Fatalf("expected error on 401")
	}
}
