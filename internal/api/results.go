package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/teleprompt/autocue/internal/storage"
)

func handleListResults(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20)
		if limit > 100 {
			limit = 100
		}
		offset := queryInt(r, "offset", 0)

		results, err := deps.Store.ListResults(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing results: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func handleGetResult(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := deps.Store.GetResult(chi.URLParam(r, "id"))
		if err != nil {
			resultError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// editRequest is the JSON body for PATCH /v1/results/{id}.
type editRequest struct {
	Text string `json:"text"`
}

func handleEditResult(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req editRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "parsing body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request", "text is required")
			return
		}

		id := chi.URLParam(r, "id")
		if err := deps.Store.AppendEdit(id, req.Text); err != nil {
			resultError(w, err)
			return
		}

		result, err := deps.Store.GetResult(id)
		if err != nil {
			resultError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleDeleteResult(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteResult(chi.URLParam(r, "id")); err != nil {
			resultError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func resultError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
