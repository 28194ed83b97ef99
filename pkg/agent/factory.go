// Package agent provides the LLM client factory with middleware chain
// construction for the pipeline roles.
package agent

import (
	"fmt"
	"time"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/agent/llmimpl/anthropic"
	"codecrew/pkg/agent/llmimpl/google"
	"codecrew/pkg/agent/llmimpl/ollama"
	"codecrew/pkg/agent/llmimpl/openai"
	"codecrew/pkg/agent/middleware/logging"
	"codecrew/pkg/agent/middleware/metrics"
	"codecrew/pkg/agent/middleware/retry"
	"codecrew/pkg/agent/middleware/timeout"
	"codecrew/pkg/config"
)

// Role identifies a pipeline agent role.
type Role string

// Pipeline roles.
const (
	RoleRefiner  Role = "refiner"
	RoleCoder    Role = "coder"
	RoleReviewer Role = "reviewer"
	RoleTester   Role = "tester"
)

// String returns the role name.
func (r Role) String() string { return string(r) }

// ClientFactory creates LLM clients with properly configured middleware
// chains. One factory serves all sessions; clients are cheap to create.
type ClientFactory struct {
	cfg      config.Config
	recorder metrics.Recorder
}

// NewClientFactory creates a factory backed by a Prometheus metrics recorder.
func NewClientFactory(cfg config.Config) *ClientFactory {
	return &ClientFactory{
		cfg:      cfg,
		recorder: metrics.NewPrometheusRecorder(),
	}
}

// CreateClient builds a client for the given role and session, resolving the
// model from configuration unless modelOverride is set. The middleware chain
// is Metrics -> Logging -> Retry -> Timeout -> RawClient.
func (f *ClientFactory) CreateClient(role Role, sessionID, modelOverride string) (llm.Client, error) {
	modelName := modelOverride
	if modelName == "" {
		modelName = f.cfg.Models.ForRole(role.String())
	}

	rawClient, err := f.newRawClient(modelName)
	if err != nil {
		return nil, err
	}

	retryPolicy := retry.NewPolicy(retry.Config{
		MaxAttempts:   f.cfg.Retry.MaxAttempts,
		InitialDelay:  time.Duration(f.cfg.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(f.cfg.Retry.MaxDelayMs) * time.Millisecond,
		BackoffFactor: f.cfg.Retry.BackoffFactor,
		Jitter:        f.cfg.Retry.Jitter,
	}, nil)

	client := llm.Chain(rawClient,
		metrics.Middleware(f.recorder, sessionID, role.String()),
		logging.Middleware(role.String()),
		retry.Middleware(retryPolicy),
		timeout.Middleware(f.cfg.Workflow.AgentTimeout()),
	)
	return client, nil
}

// newRawClient constructs the provider-specific client for a model.
func (f *ClientFactory) newRawClient(modelName string) (llm.Client, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(apiKey, modelName), nil
	case config.ProviderOpenAI:
		return openai.NewClient(apiKey, modelName), nil
	case config.ProviderGoogle:
		return google.NewClient(apiKey, modelName), nil
	case config.ProviderOllama:
		// For ollama the "key" is the host URL.
		return ollama.NewClient(apiKey, modelName)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
