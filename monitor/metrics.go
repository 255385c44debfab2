// Package monitor exposes Prometheus metrics and provider health tracking.
// Metrics are registered once at startup; recording functions are safe to
// call from any goroutine and are no-ops before initialization.
package monitor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce    sync.Once
	initialized bool

	buildInfo *prometheus.GaugeVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpFirstByteDelay  *prometheus.HistogramVec

	providerTurnsTotal   *prometheus.CounterVec
	providerTurnDuration *prometheus.HistogramVec
	providerTokensTotal  *prometheus.CounterVec

	toolExecutionsTotal *prometheus.CounterVec
	toolDuration        *prometheus.HistogramVec

	activeStreams prometheus.Gauge
)

// InitPrometheusMonitoring registers all collectors with the default
// registry. Calling it more than once is harmless.
func InitPrometheusMonitoring(version, goVersion string, startTime time.Time) error {
	var err error
	initOnce.Do(func() {
		buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llmstudio",
			Name:      "build_info",
			Help:      "Build metadata, value is the process start time in unix seconds.",
		}, []string{"version", "go_version"})
		buildInfo.WithLabelValues(version, goVersion).Set(float64(startTime.Unix()))

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmstudio",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status class.",
		}, []string{"route", "method", "status"})
		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmstudio",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"route"})
		httpFirstByteDelay = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmstudio",
			Name:      "http_first_byte_seconds",
			Help:      "Delay until the first response byte by route; the latency streaming clients actually perceive.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"route"})

		providerTurnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmstudio",
			Name:      "provider_turns_total",
			Help:      "Completed provider conversation turns by vendor, model and outcome.",
		}, []string{"vendor", "model", "outcome"})
		providerTurnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmstudio",
			Name:      "provider_turn_duration_seconds",
			Help:      "Wall time of one full provider turn including tool rounds.",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"vendor", "model"})
		providerTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmstudio",
			Name:      "provider_tokens_total",
			Help:      "Token usage reported by providers.",
		}, []string{"model", "kind"})

		toolExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmstudio",
			Name:      "tool_executions_total",
			Help:      "Tool handler executions by tool and outcome.",
		}, []string{"tool", "outcome"})
		toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmstudio",
			Name:      "tool_duration_seconds",
			Help:      "Tool handler execution duration.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"tool"})

		activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmstudio",
			Name:      "active_streams",
			Help:      "Streaming responses currently in flight.",
		})

		for _, col := range []prometheus.Collector{
			buildInfo,
			httpRequestsTotal, httpRequestDuration, httpFirstByteDelay,
			providerTurnsTotal, providerTurnDuration, providerTokensTotal,
			toolExecutionsTotal, toolDuration,
			activeStreams,
		} {
			if err = prometheus.Register(col); err != nil {
				return
			}
		}
		initialized = true
	})
	return err
}

// RecordHTTPRequest counts one finished HTTP request.
func RecordHTTPRequest(route, method, status string, elapsed time.Duration) {
	if !initialized {
		return
	}
	httpRequestsTotal.WithLabelValues(route, method, status).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordFirstByte observes time-to-first-byte for one request.
func RecordFirstByte(route string, elapsed time.Duration) {
	if !initialized {
		return
	}
	httpFirstByteDelay.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordProviderTurn counts one completed provider turn and feeds the health
// tracker. outcome is "ok", "degraded" or an error code.
func RecordProviderTurn(vendor, model, outcome string, elapsed time.Duration) {
	TrackModelCall(model, outcome == "ok")
	if !initialized {
		return
	}
	providerTurnsTotal.WithLabelValues(vendor, model, outcome).Inc()
	providerTurnDuration.WithLabelValues(vendor, model).Observe(elapsed.Seconds())
}

// RecordTokens counts reported token usage for a model.
func RecordTokens(model string, prompt, completion int) {
	if !initialized {
		return
	}
	providerTokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	providerTokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
}

// RecordToolExecution counts one tool handler run.
func RecordToolExecution(tool string, ok bool, elapsed time.Duration) {
	if !initialized {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	toolExecutionsTotal.WithLabelValues(tool, outcome).Inc()
	toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// StreamStarted marks a streaming response in flight; the returned func
// marks it finished.
func StreamStarted() func() {
	if !initialized {
		return func() {}
	}
	activeStreams.Inc()
	return func() { activeStreams.Dec() }
}
