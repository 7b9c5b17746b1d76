package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "AUTOCUE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "AUTOCUE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.format_model", typ: kString, env: "AUTOCUE_OLLAMA_FORMAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.FormatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.FormatModel },
	},
	{
		key: "ollama.fast_model", typ: kString, env: "AUTOCUE_OLLAMA_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.FastModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "AUTOCUE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AUTOCUE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "generation.backend", typ: kString, env: "AUTOCUE_GENERATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Backend },
	},
	{
		key: "generation.openrouter_api_key", typ: kString, env: "AUTOCUE_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generation.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.OpenRouterAPIKey },
	},
	{
		key: "generation.cloud_model", typ: kString, env: "AUTOCUE_GENERATION_CLOUD_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.CloudModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.CloudModel },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "AUTOCUE_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.min_similarity", typ: kFloat, env: "AUTOCUE_RETRIEVAL_MIN_SIMILARITY",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MinSimilarity = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.MinSimilarity },
	},
	{
		key: "retrieval.dimension", typ: kInt, env: "AUTOCUE_RETRIEVAL_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.Dimension },
	},
	{
		key: "log.level", typ: kString, env: "AUTOCUE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
