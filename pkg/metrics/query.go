// Package metrics provides services for querying and aggregating
// metrics data.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"codecrew/pkg/config"
)

// SessionMetrics represents aggregated metrics for a generation session.
type SessionMetrics struct {
	SessionID        string  `json:"session_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Requests         int64   `json:"requests"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetSessionMetrics retrieves aggregated token and request metrics for a
// session, summed across all four agent roles.
func (q *QueryService) GetSessionMetrics(ctx context.Context, sessionID string) (*SessionMetrics, error) {
	metrics := &SessionMetrics{
		SessionID: sessionID,
	}

	promptTokens, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{session_id=%q, type="prompt"})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	metrics.PromptTokens = int64(promptTokens)

	completionTokens, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{session_id=%q, type="completion"})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	metrics.CompletionTokens = int64(completionTokens)

	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

	requests, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_requests_total{session_id=%q})`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query request count: %w", err)
	}
	metrics.Requests = int64(requests)

	byModel, err := q.GetSessionMetricsByModel(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for modelName, m := range byModel {
		metrics.EstimatedCostUSD += estimateCost(modelName, m.PromptTokens, m.CompletionTokens)
	}

	return metrics, nil
}

// GetSessionMetricsByModel retrieves metrics broken down by model for a
// session, showing which models were used and their individual volumes.
func (q *QueryService) GetSessionMetricsByModel(ctx context.Context, sessionID string) (map[string]*SessionMetrics, error) {
	result := make(map[string]*SessionMetrics)

	modelsQuery := fmt.Sprintf(`group by (model) (llm_tokens_total{session_id=%q})`, sessionID)
	modelsResult, _, err := q.queryAPI.Query(ctx, modelsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				models = append(models, string(modelName))
			}
		}
	}

	for _, modelName := range models {
		metrics := &SessionMetrics{
			SessionID: sessionID,
		}

		promptTokens, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{session_id=%q, model=%q, type="prompt"})`, sessionID, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", modelName, err)
		}
		metrics.PromptTokens = int64(promptTokens)

		completionTokens, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{session_id=%q, model=%q, type="completion"})`, sessionID, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", modelName, err)
		}
		metrics.CompletionTokens = int64(completionTokens)

		metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

		requests, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_requests_total{session_id=%q, model=%q})`, sessionID, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query request count for model %s: %w", modelName, err)
		}
		metrics.Requests = int64(requests)

		metrics.EstimatedCostUSD = estimateCost(modelName, metrics.PromptTokens, metrics.CompletionTokens)

		result[modelName] = metrics
	}

	return result, nil
}

// scalar evaluates an instant query and returns the first sample value,
// zero when the query matches nothing.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// estimateCost prices token volumes against the model catalog, zero for
// models without catalog pricing.
func estimateCost(modelName string, promptTokens, completionTokens int64) float64 {
	info, ok := config.CatalogLookup(modelName)
	if !ok {
		return 0
	}
	const million = 1_000_000
	return float64(promptTokens)/million*info.InputCPM +
		float64(completionTokens)/million*info.OutputCPM
}
