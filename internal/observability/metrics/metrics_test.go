package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequestCountsServerErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/runs", "POST"))
	ObserveHTTPRequest("/api/v1/runs", "POST", http.StatusInternalServerError, 20*time.Millisecond)
	ObserveHTTPRequest("/api/v1/runs", "POST", http.StatusAccepted, 5*time.Millisecond)
	if got := testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/runs", "POST")) - before; got != 1 {
		t.Fatalf("expected one server error, got %v", got)
	}
}

func TestHandlerExposesRuntimeSeries(t *testing.T) {
	ObserveTick("browser_task", "completed")
	ObserveThink("openai", time.Second, errors.New("boom"))
	ObserveJudgeVerdict("applied")

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, series := range []string{
		`arena_agent_ticks_total{action_type="browser_task",status="completed"}`,
		`arena_provider_failures_total{provider="openai"}`,
		`arena_judge_verdicts_total{outcome="applied"}`,
	} {
		if !strings.Contains(string(body), series) {
			t.Fatalf("expected %s in scrape output", series)
		}
	}
}

func TestObserveRedeliveryCountsByFate(t *testing.T) {
	before := testutil.ToFloat64(redeliveries.WithLabelValues("dropped"))
	ObserveRedelivery("dropped")
	ObserveQueueWait(-time.Second)
	if got := testutil.ToFloat64(redeliveries.WithLabelValues("dropped")) - before; got != 1 {
		t.Fatalf("expected one dropped delivery, got %v", got)
	}
}
