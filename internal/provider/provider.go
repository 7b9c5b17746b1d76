// Package provider contains the model backends: a local Ollama client and a
// cloud OpenRouter client. Both stream generation output chunk by chunk.
package provider

import "context"

// GenerationRequest describes one generation call.
type GenerationRequest struct {
	Prompt  string
	Model   string
	Options map[string]any // passed through to the backend's wire request
}

// Generator streams model output. onChunk is called once per output chunk in
// order; returning an error from onChunk aborts the stream. Cancelling ctx
// stops generation mid-stream. A truncated or failed generation surfaces as
// an error, never as a silently shortened success.
type Generator interface {
	Name() string
	StreamGenerate(ctx context.Context, req GenerationRequest, onChunk func(string) error) error
}

// Embedder produces embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}
