// Package metrics provides Prometheus-based metrics recording for LLM
// operations.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/agent/llmerrors"
)

// Recorder records metrics for LLM requests.
type Recorder interface {
	ObserveRequest(model, sessionID, agentRole string, promptChars, completionChars int, success bool, errorType string, duration time.Duration)
}

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, session, agent role, and status",
			},
			[]string{"model", "session_id", "agent_role", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Approximate token volume of LLM requests (4 chars per token)",
			},
			[]string{"model", "session_id", "agent_role", "type"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "session_id", "agent_role"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, sessionID, agentRole string,
	promptChars, completionChars int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(model, sessionID, agentRole, status, errorType).Inc()

	if success {
		// 4 chars per token is the usual approximation when the provider
		// does not report usage.
		p.tokensTotal.WithLabelValues(model, sessionID, agentRole, "prompt").Add(float64(promptChars / 4))
		p.tokensTotal.WithLabelValues(model, sessionID, agentRole, "completion").Add(float64(completionChars / 4))
	}

	p.requestDuration.WithLabelValues(model, sessionID, agentRole).Observe(duration.Seconds())
}

// Middleware returns a middleware function that records request metrics
// with the given session and agent role labels.
func Middleware(recorder Recorder, sessionID, agentRole string) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				promptChars := 0
				for i := range req.Messages {
					promptChars += len(req.Messages[i].Content)
				}

				errorType := ""
				if err != nil {
					errorType = llmerrors.TypeOf(err).String()
				}

				recorder.ObserveRequest(next.ModelName(), sessionID, agentRole,
					promptChars, len(resp.Content), err == nil, errorType, duration)

				return resp, err
			},
			func() string {
				return next.ModelName()
			},
		)
	}
}
