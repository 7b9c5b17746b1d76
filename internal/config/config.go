package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server     ServerConfig
	Ollama     OllamaConfig
	Storage    StorageConfig
	Generation GenerationConfig
	Retrieval  RetrievalConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL     string
	FormatModel string
	FastModel   string
	EmbedModel  string
}

type StorageConfig struct {
	DataDir string
}

// GenerationConfig selects the generation backend. Backend is "ollama" for
// fully local operation or "openrouter" for cloud generation (embeddings stay
// local either way).
type GenerationConfig struct {
	Backend          string
	OpenRouterAPIKey string
	CloudModel       string
}

type RetrievalConfig struct {
	TopK          int
	MinSimilarity float64
	Dimension     int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			FormatModel: "mistral-nemo",
			FastModel:   "phi3.5",
			EmbedModel:  "all-minilm",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Generation: GenerationConfig{
			Backend:    "ollama",
			CloudModel: "anthropic/claude-sonnet-4",
		},
		Retrieval: RetrievalConfig{
			TopK:          10,
			MinSimilarity: 0.4,
			Dimension:     384,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.autocue.app) and secrets
// fall back to macOS Keychain. On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/autocue/config.json and secrets live in a data-dir file.
//
// Environment variables (AUTOCUE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Generation.Backend != "ollama" && cfg.Generation.Backend != "openrouter" {
		return Config{}, fmt.Errorf("invalid generation backend %q: must be \"ollama\" or \"openrouter\"", cfg.Generation.Backend)
	}

	// The OpenRouter key is only required when the cloud backend is selected.
	if cfg.Generation.Backend == "openrouter" && cfg.Generation.OpenRouterAPIKey == "" {
		if key, err := kc.Get("autocue", "openrouter_api_key"); err == nil && key != "" {
			cfg.Generation.OpenRouterAPIKey = key
		}
	}

	if cfg.Generation.Backend == "openrouter" && cfg.Generation.OpenRouterAPIKey == "" {
		msg := "missing required config: OpenRouter API key. " +
			"Set it via environment variable AUTOCUE_OPENROUTER_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	if cfg.Retrieval.Dimension <= 0 {
		return Config{}, fmt.Errorf("invalid retrieval dimension %d", cfg.Retrieval.Dimension)
	}

	return cfg, nil
}

// LogLevelDebug reports whether the configured log level is debug.
func (c Config) LogLevelDebug() bool {
	return strings.EqualFold(c.Log.Level, "debug")
}
