package arena

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunSendsKeyAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Fatalf("expected bearer key, got %q", got)
		}
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Run{ID: "r1", Goal: req.Goal, Status: "pending"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAPIKey("k1")
	r, err := client.SubmitRun(context.Background(), RunRequest{Goal: "Earn 10 USDC"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.ID != "r1" || r.Goal != "Earn 10 USDC" {
		t.Fatalf("unexpected run: %+v", r)
	}
}

func TestListRunsEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "failed,succeeded" || q.Get("limit") != "5" || q.Get("order") != "asc" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"runs": []Run{{ID: "a"}, {ID: "b"}}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	runs, err := client.ListRuns(context.Background(), ListOptions{Statuses: []string{"failed", "succeeded"}, Limit: 5, Ascending: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}

func TestGetRunDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(APIError{Code: "RUN_NOT_FOUND", Message: "run not found"})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.GetRun(context.Background(), "missing")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "RUN_NOT_FOUND" || !IsNotFound(err) {
		t.Fatalf("unexpected error: %v", apiErr)
	}
}

func TestWaitPollsUntilFinished(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "running"
		if calls.Add(1) >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Run{ID: "r1", Status: status})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := client.Wait(ctx, "r1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if r.Status != "succeeded" || calls.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d calls", r, calls.Load())
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost", nil); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}
