package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/teleprompt/autocue/internal/pipeline"
)

// formatRequest is the JSON body for POST /v1/format.
type formatRequest struct {
	Input             string         `json:"input"`
	Model             string         `json:"model,omitempty"`
	Options           map[string]any `json:"options,omitempty"`
	EnabledExampleIDs []string       `json:"enabled_example_ids,omitempty"`
	Stream            bool           `json:"stream,omitempty"`
}

func handleFormat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req formatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "parsing body: %v", err)
			return
		}
		if req.Input == "" {
			httpError(w, http.StatusBadRequest, "invalid_request", "input is required")
			return
		}

		model := req.Model
		if model == "" {
			model = deps.DefaultModel
		}

		pr := pipeline.Request{
			InputText:         req.Input,
			Model:             model,
			Options:           req.Options,
			EnabledExampleIDs: req.EnabledExampleIDs,
		}

		if req.Stream {
			streamFormat(w, r, deps, pr)
			return
		}

		result, err := deps.Formatter.Process(r.Context(), pr)
		if err != nil {
			formatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// streamFormat runs the pipeline and relays progress, status, and the final
// result as SSE events. A client disconnect cancels the request context and
// with it the generation stream.
func streamFormat(w http.ResponseWriter, r *http.Request, deps Deps, pr pipeline.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	pr.OnProgress = func(percent int) {
		emit("progress", map[string]int{"percent": percent})
	}
	pr.OnStatus = func(message string, exampleCount int) {
		emit("status", map[string]any{"message": message, "example_count": exampleCount})
	}

	result, err := deps.Formatter.Process(r.Context(), pr)
	if err != nil {
		kind := "api_error"
		if errors.Is(err, pipeline.ErrCancelled) {
			kind = "cancelled"
		}
		emit("error", map[string]string{"message": err.Error(), "type": kind})
		return
	}

	emit("result", result)
}

func formatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		httpError(w, http.StatusConflict, "busy", "%v", err)
	case errors.Is(err, pipeline.ErrCancelled):
		// The client went away; the status code is best effort.
		httpError(w, http.StatusBadRequest, "cancelled", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "generation_failed", "%v", err)
	}
}
