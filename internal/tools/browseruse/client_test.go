package browseruse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Agent-Arena/internal/tools"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "bu", BaseURL: srv.URL, Timeout: time.Second, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	c.httpClient = srv.Client()
	return c
}

func TestExecutePollsUntilFinished(t *testing.T) {
	var polls, sessions int32
	var stopped atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sessions, 1)
		_, _ = w.Write([]byte(`{"id":"s-1"}`))
	})
	mux.HandleFunc("/sessions/s-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			stopped.Store(true)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"s-1","liveUrl":"https://live.example/s-1"}`))
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bu", r.Header.Get("X-Browser-Use-API-Key"))
		_, _ = w.Write([]byte(`{"id":"t-1","sessionId":"s-1"}`))
	})
	mux.HandleFunc("/tasks/t-1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			_, _ = w.Write([]byte(`{"id":"t-1","status":"started"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"t-1","status":"finished","isSuccess":true,"output":"posted","steps":[{},{},{}]}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	live, err := c.LiveURL(ctx)
	require.NoError(t, err)
	assert.Empty(t, live, "no session yet")

	res, err := c.Execute(ctx, tools.BrowserTask{Task: "post a tweet"})
	require.NoError(t, err)
	assert.Equal(t, tools.StatusCompleted, res.Status())
	assert.Equal(t, "posted", res["output"])
	assert.Equal(t, 3, res["steps"])

	live, err = c.LiveURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://live.example/s-1", live)

	_, err = c.Execute(ctx, tools.BrowserTask{Task: "again"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&sessions))

	require.NoError(t, c.Close(ctx))
	assert.True(t, stopped.Load())
}

func TestExecuteEmptyTask(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	res, err := c.Execute(context.Background(), tools.BrowserTask{})
	require.NoError(t, err)
	assert.Equal(t, tools.StatusError, res.Status())
}
