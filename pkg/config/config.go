// Package config provides configuration loading, validation, and management
// for the generation service. It handles the JSON config file, the YAML model
// catalog, and encrypted secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider constants used by the client factory and rate accounting.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// API key environment variable names.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// EnvServicePassword is the environment fallback for the web auth
// password when no secrets file is loaded.
const EnvServicePassword = "CODECREW_PASSWORD"

// Workflow defaults.
const (
	DefaultMaxAttempts       = 10
	DefaultAgentTimeoutSec   = 120
	DefaultSessionGraceSec   = 300
	DefaultEventHistoryLimit = 500
)

// AgentModels holds the model assignment for each pipeline role. Any role
// left empty falls back to Default.
type AgentModels struct {
	Default  string `json:"default"`
	Refiner  string `json:"refiner,omitempty"`
	Coder    string `json:"coder,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`
	Tester   string `json:"tester,omitempty"`
}

// ForRole resolves the model for a pipeline role name.
func (m *AgentModels) ForRole(role string) string {
	var model string
	switch strings.ToLower(role) {
	case "refiner":
		model = m.Refiner
	case "coder":
		model = m.Coder
	case "reviewer":
		model = m.Reviewer
	case "tester":
		model = m.Tester
	}
	if model == "" {
		model = m.Default
	}
	return model
}

// WorkflowConfig bounds a single generation session.
type WorkflowConfig struct {
	MaxAttempts     int `json:"max_attempts"`      // Coder invocation ceiling per session
	AgentTimeoutSec int `json:"agent_timeout_sec"` // Per-call LLM timeout
	SessionGraceSec int `json:"session_grace_sec"` // Terminal session retention before eviction
}

// AgentTimeout returns the per-call timeout as a duration.
func (w *WorkflowConfig) AgentTimeout() time.Duration {
	return time.Duration(w.AgentTimeoutSec) * time.Second
}

// SessionGrace returns the terminal-session retention window.
func (w *WorkflowConfig) SessionGrace() time.Duration {
	return time.Duration(w.SessionGraceSec) * time.Second
}

// RetryConfig tunes the LLM retry middleware.
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts"`
	InitialDelayMs int     `json:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms"`
	BackoffFactor  float64 `json:"backoff_factor"`
	Jitter         bool    `json:"jitter"`
}

// WebConfig configures the HTTP/WebSocket front end.
type WebConfig struct {
	ListenAddr    string `json:"listen_addr"`
	AuthUser      string `json:"auth_user,omitempty"`      // Basic auth username, empty disables auth
	PrometheusURL string `json:"prometheus_url,omitempty"` // Usage queries, empty disables /usage
}

// ToolsConfig configures the external lint command run against generated
// code after a session succeeds.
type ToolsConfig struct {
	LintCommand []string `json:"lint_command,omitempty"` // e.g. ["flake8", "--isolated"]
	TimeoutSec  int      `json:"timeout_sec,omitempty"`
}

// Config is the root configuration for the service.
type Config struct {
	Models                AgentModels    `json:"models"`
	Workflow              WorkflowConfig `json:"workflow"`
	Retry                 RetryConfig    `json:"retry"`
	Web                   WebConfig      `json:"web"`
	Tools                 ToolsConfig    `json:"tools"`
	EventLogDir           string         `json:"event_log_dir"`
	EventLogRotationHours int            `json:"event_log_rotation_hours"`
	DatabasePath          string         `json:"database_path"`
	ModelCatalogPath      string         `json:"model_catalog_path,omitempty"`
	EventHistoryLimit     int            `json:"event_history_limit"`
}

// Validate checks that the configuration is internally consistent and that
// every assigned model maps to a known provider.
func (c *Config) Validate() error {
	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}
	for _, role := range []string{"refiner", "coder", "reviewer", "tester"} {
		model := c.Models.ForRole(role)
		if _, err := GetModelProvider(model); err != nil {
			return fmt.Errorf("invalid model for %s: %w", role, err)
		}
	}
	if c.Workflow.MaxAttempts <= 0 {
		return fmt.Errorf("workflow.max_attempts must be positive, got %d", c.Workflow.MaxAttempts)
	}
	if c.Workflow.AgentTimeoutSec <= 0 {
		return fmt.Errorf("workflow.agent_timeout_sec must be positive, got %d", c.Workflow.AgentTimeoutSec)
	}
	if c.Web.ListenAddr == "" {
		return fmt.Errorf("web.listen_addr is required")
	}
	return nil
}

// ProviderPattern maps a model name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from model names
// not present in the catalog. Allows using new models without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a given model. The catalog
// is consulted first, then prefix pattern matching.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := CatalogLookup(modelName); exists {
		return info.Provider, nil
	}
	name := strings.TrimPrefix(modelName, "ollama:")
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) || strings.HasPrefix(name, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model %q: no catalog entry or pattern match", modelName)
}

// GetAPIKey returns the API key for a given provider, checking the decrypted
// secrets file first and environment variables second. For Ollama the host
// URL is returned instead of a key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	if key, err := GetSecret(envVar); err == nil && key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s not in secrets file or environment", envVar)
}
