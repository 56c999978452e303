// Package metrics holds the Prometheus collectors for model calls, tool
// executions, reasoning cycles, executions and the HTTP surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentx"

var (
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_calls_total",
		Help:      "Total model calls by outcome.",
	}, []string{"status"})

	ModelDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "model_call_duration_seconds",
		Help:      "Model call duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	ModelTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_tokens_total",
		Help:      "Tokens exchanged with models.",
	}, []string{"direction"})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Total tool executions by tool and outcome.",
	}, []string{"tool", "status"})

	LoopCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loop_cycles_total",
		Help:      "Reasoning loop cycles started.",
	})

	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Agent executions by delivery mode and outcome.",
	}, []string{"mode", "status"})

	PersistedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persisted_responses_total",
		Help:      "Chat responses appended to the transcript store.",
	})

	UnresolvedBindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unresolved_bindings_total",
		Help:      "Tool bindings skipped during resolution, by binding type.",
	}, []string{"type"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "code"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
