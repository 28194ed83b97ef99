package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultConfig returns a configuration populated with the service defaults.
// A config file overrides any subset of these.
func DefaultConfig() Config {
	return Config{
		Models: AgentModels{
			Default: "claude-sonnet-4-5",
		},
		Workflow: WorkflowConfig{
			MaxAttempts:     DefaultMaxAttempts,
			AgentTimeoutSec: DefaultAgentTimeoutSec,
			SessionGraceSec: DefaultSessionGraceSec,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMs: 500,
			MaxDelayMs:     10000,
			BackoffFactor:  2.0,
			Jitter:         true,
		},
		Web: WebConfig{
			ListenAddr: ":8080",
		},
		Tools: ToolsConfig{
			TimeoutSec: 30,
		},
		EventLogDir:           "logs",
		EventLogRotationHours: 24,
		DatabasePath:          "codecrew.db",
		EventHistoryLimit:     DefaultEventHistoryLimit,
	}
}

// Load reads the JSON config file at path, applies it over the defaults,
// loads the YAML model catalog when configured, and validates the result.
// A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults.
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if cfg.ModelCatalogPath != "" {
		if err := LoadCatalog(cfg.ModelCatalogPath); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
