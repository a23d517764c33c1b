// Package metrics owns the process Prometheus registry and the collectors the
// runtime reports into.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arena"

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_ticks_total",
		Help:      "Agent loop ticks by action type and result status.",
	}, []string{"action_type", "status"})

	providerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_failures_total",
		Help:      "Think calls that failed, by provider.",
	}, []string{"provider"})

	providerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_think_seconds",
		Help:      "Think call duration by provider.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
	}, []string{"provider"})

	judgeVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "judge_verdicts_total",
		Help:      "Judge evaluations by outcome (applied, achieved, rejected, failed).",
	}, []string{"outcome"})

	activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Agent loops currently hosted by this process.",
	})

	runsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_completed_total",
		Help:      "Runs that reached a terminal state, by stop reason.",
	}, []string{"reason"})

	queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_queue_wait_seconds",
		Help:      "Time a run ticket spent queued before a worker took it.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
	})

	redeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "run_redeliveries_total",
		Help:      "Failed run deliveries by fate (retried, dropped).",
	}, []string{"fate"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpErrors, httpLatency,
		ticks, providerFailures, providerLatency,
		judgeVerdicts, activeRuns, runsCompleted,
		queueWait, redeliveries,
	)
}

// Registry exposes the process registry for tests and extra collectors.
func Registry() *prometheus.Registry { return registry }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTick counts one loop tick.
func ObserveTick(actionType, status string) {
	ticks.WithLabelValues(actionType, status).Inc()
}

// ObserveThink records one provider call.
func ObserveThink(provider string, duration time.Duration, err error) {
	providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
	if err != nil {
		providerFailures.WithLabelValues(provider).Inc()
	}
}

// ObserveJudgeVerdict counts one judge evaluation.
func ObserveJudgeVerdict(outcome string) {
	judgeVerdicts.WithLabelValues(outcome).Inc()
}

// RunStarted and RunFinished track hosted loops.
func RunStarted() { activeRuns.Inc() }

// RunFinished records a terminal run.
func RunFinished(reason string) {
	activeRuns.Dec()
	runsCompleted.WithLabelValues(reason).Inc()
}

// ObserveQueueWait records how long a run ticket was queued.
func ObserveQueueWait(d time.Duration) {
	if d < 0 {
		d = 0
	}
	queueWait.Observe(d.Seconds())
}

// ObserveRedelivery counts a failed delivery that was retried or dropped.
func ObserveRedelivery(fate string) {
	redeliveries.WithLabelValues(fate).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
