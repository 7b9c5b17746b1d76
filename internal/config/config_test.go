package config

import (
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	strings map[string]string
	ints    map[string]int
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strings[key]
	return v, ok, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *mapBackend) SetString(key, val string) error {
	b.strings[key] = val
	return nil
}

func (b *mapBackend) SetInt(key string, val int) error {
	b.ints[key] = val
	return nil
}

func (b *mapBackend) Delete(key string) error {
	delete(b.strings, key)
	delete(b.ints, key)
	return nil
}

func newMapBackend() *mapBackend {
	return &mapBackend{strings: map[string]string{}, ints: map[string]int{}}
}

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[service+"/"+account], nil
}

func (m mockKeychain) Set(service, account, value string) error {
	if m.values == nil {
		return nil
	}
	m.values[service+"/"+account] = value
	return nil
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Ollama.EmbedModel != "all-minilm" {
		t.Errorf("Ollama.EmbedModel = %q, want %q", cfg.Ollama.EmbedModel, "all-minilm")
	}
	if cfg.Generation.Backend != "ollama" {
		t.Errorf("Generation.Backend = %q, want %q", cfg.Generation.Backend, "ollama")
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("Retrieval.TopK = %d, want 10", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.MinSimilarity != 0.4 {
		t.Errorf("Retrieval.MinSimilarity = %v, want 0.4", cfg.Retrieval.MinSimilarity)
	}
	if cfg.Retrieval.Dimension != 384 {
		t.Errorf("Retrieval.Dimension = %d, want 384", cfg.Retrieval.Dimension)
	}
}

func TestBackendValues(t *testing.T) {
	b := newMapBackend()
	b.ints["server.port"] = 5000
	b.ints["retrieval.top_k"] = 5
	b.strings["retrieval.min_similarity"] = "0.6"
	b.strings["ollama.embed_model"] = "custom-embed"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.MinSimilarity != 0.6 {
		t.Errorf("Retrieval.MinSimilarity = %v, want 0.6", cfg.Retrieval.MinSimilarity)
	}
	if cfg.Ollama.EmbedModel != "custom-embed" {
		t.Errorf("Ollama.EmbedModel = %q, want %q", cfg.Ollama.EmbedModel, "custom-embed")
	}
}

func TestEnvOverride(t *testing.T) {
	b := newMapBackend()
	b.strings["ollama.base_url"] = "http://backend:11434"

	t.Setenv("AUTOCUE_OLLAMA_BASE_URL", "http://env:11434")

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.BaseURL != "http://env:11434" {
		t.Errorf("Ollama.BaseURL = %q, want env override", cfg.Ollama.BaseURL)
	}
}

func TestCloudBackendRequiresKey(t *testing.T) {
	b := newMapBackend()
	b.strings["generation.backend"] = "openrouter"

	t.Setenv("AUTOCUE_OPENROUTER_API_KEY", "")

	_, err := loadWith(b, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
}

func TestCloudBackendKeychainFallback(t *testing.T) {
	b := newMapBackend()
	b.strings["generation.backend"] = "openrouter"

	t.Setenv("AUTOCUE_OPENROUTER_API_KEY", "")

	kc := mockKeychain{values: map[string]string{"autocue/openrouter_api_key": "keychain-secret"}}
	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generation.OpenRouterAPIKey != "keychain-secret" {
		t.Errorf("OpenRouterAPIKey = %q, want %q", cfg.Generation.OpenRouterAPIKey, "keychain-secret")
	}
}

func TestInvalidBackend(t *testing.T) {
	b := newMapBackend()
	b.strings["generation.backend"] = "azure"

	if _, err := loadWith(b, mockKeychain{}); err == nil {
		t.Fatal("expected error for invalid backend, got nil")
	}
}

func TestGetAPIToken_GeneratesOnce(t *testing.T) {
	kc := mockKeychain{values: map[string]string{}}

	token, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}

	again, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken second call: %v", err)
	}
	if again != token {
		t.Errorf("second token %q differs from first %q", again, token)
	}
}
