package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Agent-Arena/internal/events"
	"Agent-Arena/internal/run"
)

type testEnv struct {
	server *Server
	store  *run.MemoryStore
	log    *events.MemoryStore
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store := run.NewMemoryStore()
	log := events.NewMemoryStore()
	bridge, err := events.NewBridge(log, store, events.WithInbox(log))
	require.NoError(t, err)
	svc := run.NewService(store, run.NewMemoryQueue(16))
	return testEnv{server: NewServer(":0", svc, bridge), store: store, log: log}
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndGetRun(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/runs", `{"run_id":"r1","goal":"Earn 10 USDC","goal_type":"revenue","target_value":10}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created run.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "r1", created.ID)
	assert.Equal(t, run.StatusPending, created.Status)
	assert.Equal(t, int64(86400), created.TimeLimit)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"goal":"Earn 10 USDC"`)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"RUN_NOT_FOUND"`)
}

func TestSubmitRunValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/runs", `{"goal":"x","goal_type":"karma"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "RUN_VALIDATION_FAILED")

	rec = env.do(t, http.MethodPost, "/api/v1/runs", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")
}

func TestListActiveRuns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Create(ctx, &run.Run{ID: "live", Goal: "g"}))
	require.NoError(t, env.store.Create(ctx, &run.Run{ID: "done", Goal: "g"}))
	_, err := env.store.Complete(ctx, "done", events.OutcomeSuccess)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/runs?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []run.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "live", body.Runs[0].ID)

	rec = env.do(t, http.MethodGet, "/api/v1/runs", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Runs, 2)
}

func TestPromptsAndEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Create(ctx, &run.Run{ID: "r1", Goal: "g"}))
	require.NoError(t, env.log.AppendEvent(ctx, events.New("r1", events.TypeStatus, map[string]any{"status": "thinking"})))

	rec := env.do(t, http.MethodPost, "/api/v1/runs/r1/prompts", `{"text":"try posting on forums"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pending, err := env.log.PendingPrompts(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "try posting on forums", pending[0].Text)

	rec = env.do(t, http.MethodPost, "/api/v1/runs/r1/prompts", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/r1/events?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []events.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, events.TypeStatus, body.Events[0].Type)

	_, err = env.store.Complete(ctx, "r1", events.OutcomeFailed)
	require.NoError(t, err)
	rec = env.do(t, http.MethodPost, "/api/v1/runs/r1/prompts", `{"text":"too late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/runs/nope/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return assert.AnError }

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(t, http.MethodGet, "/api/v1/runs", "")
	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1/runs")

	unhealthy := NewServer(":0", nil, nil, WithHealthChecks(failingPinger{}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	out := httptest.NewRecorder()
	unhealthy.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusServiceUnavailable, out.Code)
}

func TestAPIKeysGuardVersionedRoutesOnly(t *testing.T) {
	store := run.NewMemoryStore()
	log := events.NewMemoryStore()
	bridge, err := events.NewBridge(log, store, events.WithInbox(log))
	require.NoError(t, err)
	server := NewServer(":0", run.NewService(store, run.NewMemoryQueue(4)), bridge, WithAPIKeys("k1"))

	serve := func(path, key string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusUnauthorized, serve("/api/v1/runs", ""))
	assert.Equal(t, http.StatusUnauthorized, serve("/api/v1/runs", "k2"))
	assert.Equal(t, http.StatusOK, serve("/api/v1/runs", "k1"))
	assert.Equal(t, http.StatusOK, serve("/healthz", ""))
}
