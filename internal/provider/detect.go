package provider

import (
	"fmt"

	"github.com/teleprompt/autocue/internal/config"
)

// Detect builds the Generator selected by configuration: the local Ollama
// backend by default, or OpenRouter when generation.backend is "openrouter".
// The embedding side always uses the local Ollama instance.
func Detect(cfg *config.Config) (Generator, *Ollama, error) {
	ollama := NewOllama(cfg.Ollama.BaseURL)

	switch cfg.Generation.Backend {
	case "ollama":
		return ollama, ollama, nil
	case "openrouter":
		if cfg.Generation.OpenRouterAPIKey == "" {
			return nil, nil, fmt.Errorf("openrouter backend selected but no API key configured")
		}
		return NewOpenRouter(cfg.Generation.OpenRouterAPIKey), ollama, nil
	default:
		return nil, nil, fmt.Errorf("unknown generation backend %q", cfg.Generation.Backend)
	}
}

// GenerationModel returns the model name the pipeline should use for the
// configured backend.
func GenerationModel(cfg *config.Config) string {
	if cfg.Generation.Backend == "openrouter" {
		return cfg.Generation.CloudModel
	}
	return cfg.Ollama.FormatModel
}
