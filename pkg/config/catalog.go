package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ModelInfo contains static information about a known LLM model.
type ModelInfo struct {
	Provider         string  `yaml:"provider"`
	InputCPM         float64 `yaml:"input_cpm"`  // Cost per million input tokens (USD)
	OutputCPM        float64 `yaml:"output_cpm"` // Cost per million output tokens (USD)
	MaxContextTokens int     `yaml:"max_context_tokens"`
	MaxOutputTokens  int     `yaml:"max_output_tokens"`
}

// builtinCatalog covers the models the service ships support for. A YAML
// catalog file can extend or override these entries.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var builtinCatalog = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         0.15,
		OutputCPM:        0.6,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o3-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 200000,
		MaxOutputTokens:  100000,
	},
	"gemini-2.5-pro": {
		Provider:         ProviderGoogle,
		InputCPM:         1.25,
		OutputCPM:        10.0,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.3,
		OutputCPM:        2.5,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
}

//nolint:gochecknoglobals // Catalog state guarded by catalogMux
var (
	catalogMux     sync.RWMutex
	catalogEntries map[string]ModelInfo
)

// catalogFile is the on-disk shape of a model catalog.
type catalogFile struct {
	Models map[string]ModelInfo `yaml:"models"`
}

// LoadCatalog reads a YAML model catalog and merges it over the builtin
// entries. File entries win on name collisions.
func LoadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse model catalog %s: %w", path, err)
	}

	merged := make(map[string]ModelInfo, len(builtinCatalog)+len(file.Models))
	for name, info := range builtinCatalog {
		merged[name] = info
	}
	for name, info := range file.Models {
		if info.Provider == "" {
			return fmt.Errorf("model catalog entry %q missing provider", name)
		}
		merged[name] = info
	}

	catalogMux.Lock()
	catalogEntries = merged
	catalogMux.Unlock()
	return nil
}

// CatalogLookup returns the catalog entry for a model name.
func CatalogLookup(modelName string) (ModelInfo, bool) {
	catalogMux.RLock()
	entries := catalogEntries
	catalogMux.RUnlock()

	if entries == nil {
		entries = builtinCatalog
	}
	info, ok := entries[modelName]
	return info, ok
}

// MaxOutputTokensFor returns the output token ceiling for a model, or the
// given fallback when the model is not in the catalog.
func MaxOutputTokensFor(modelName string, fallback int) int {
	if info, ok := CatalogLookup(modelName); ok && info.MaxOutputTokens > 0 {
		return info.MaxOutputTokens
	}
	return fallback
}

// ResetCatalog restores the builtin catalog. Used by tests.
func ResetCatalog() {
	catalogMux.Lock()
	catalogEntries = nil
	catalogMux.Unlock()
}
