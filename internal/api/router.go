// Package api exposes the HTTP surface: the format endpoint with SSE
// progress, the example corpus CRUD, result history, and the MCP server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/pipeline"
	"github.com/teleprompt/autocue/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB, uploads carry whole scripts

// Formatter runs one format request end to end.
type Formatter interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// ModelLister reports the locally available models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Deps holds the wiring for the HTTP handler.
type Deps struct {
	Manager      *corpus.Manager
	Store        *storage.Store
	CorpusStore  *corpus.Store
	Formatter    Formatter
	Models       ModelLister
	DefaultModel string
	Token        string
	HTTPClient   *http.Client // for URL-based uploads
}

// NewHandler builds the router. /health is open; everything else requires
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/format", handleFormat(deps))
		r.Get("/v1/models", handleModels(deps))

		r.Post("/v1/examples", handleUploadExample(deps))
		r.Get("/v1/examples", handleListExamples(deps))
		r.Get("/v1/examples/{id}", handleGetExample(deps))
		r.Put("/v1/examples/{id}", handleReplaceExample(deps))
		r.Delete("/v1/examples/{id}", handleDeleteExample(deps))
		r.Post("/v1/examples/reindex", handleReindex(deps))

		r.Get("/v1/results", handleListResults(deps))
		r.Get("/v1/results/{id}", handleGetResult(deps))
		r.Patch("/v1/results/{id}", handleEditResult(deps))
		r.Delete("/v1/results/{id}", handleDeleteResult(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := deps.Models.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "listing models: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"models":  names,
			"default": deps.DefaultModel,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// corpusError maps corpus errors onto HTTP responses: 404 unknown, 409
// immutable, 422 invalid.
func corpusError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, corpus.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, corpus.ErrImmutableRecord):
		httpError(w, http.StatusConflict, "immutable_record", "%v", err)
	case errors.Is(err, corpus.ErrInvalid), errors.Is(err, corpus.ErrDimensionMismatch):
		httpError(w, http.StatusUnprocessableEntity, "invalid_request", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
