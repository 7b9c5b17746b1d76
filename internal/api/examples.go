package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/extract"
	"github.com/teleprompt/autocue/internal/reindex"
)

// uploadRequest is the JSON body for POST /v1/examples. The before text can
// come inline, from an uploaded file (base64 + filename, .pdf supported), or
// from a URL; exactly one source must be set. The after text is always inline.
type uploadRequest struct {
	Title        string   `json:"title"`
	Category     string   `json:"category,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	QualityScore int      `json:"quality_score,omitempty"`

	BeforeText string `json:"before_text,omitempty"`
	FileBase64 string `json:"file_base64,omitempty"`
	Filename   string `json:"filename,omitempty"`
	URL        string `json:"url,omitempty"`

	AfterText string `json:"after_text"`
}

// exampleView is the JSON shape of a record in API responses.
type exampleView struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	BeforeText   string   `json:"before_text"`
	AfterText    string   `json:"after_text"`
	Tags         []string `json:"tags,omitempty"`
	WordCount    int      `json:"word_count"`
	QualityScore int      `json:"quality_score,omitempty"`
	Source       string   `json:"source"`
	CreatedAt    string   `json:"created_at"`
}

func viewOf(rec corpus.ExampleRecord) exampleView {
	var tags []string
	if rec.Tags != "" {
		json.Unmarshal([]byte(rec.Tags), &tags)
	}
	return exampleView{
		ID:           rec.ID,
		Title:        rec.Title,
		Category:     string(rec.Category),
		BeforeText:   rec.BeforeText,
		AfterText:    rec.AfterText,
		Tags:         tags,
		WordCount:    rec.WordCount,
		QualityScore: rec.QualityScore,
		Source:       string(rec.Source),
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339),
	}
}

func handleUploadExample(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req uploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "parsing body: %v", err)
			return
		}

		before, ok := resolveBeforeText(w, r, deps, req)
		if !ok {
			return
		}

		tagsJSON := ""
		if len(req.Tags) > 0 {
			b, err := json.Marshal(req.Tags)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request", "encoding tags: %v", err)
				return
			}
			tagsJSON = string(b)
		}

		id, err := deps.Manager.Upload(r.Context(), before, req.AfterText, corpus.UploadMeta{
			Title:        req.Title,
			Category:     corpus.Category(req.Category),
			Tags:         tagsJSON,
			QualityScore: req.QualityScore,
		})
		if err != nil {
			corpusError(w, err)
			return
		}

		rec, err := deps.Manager.Get(id)
		if err != nil {
			corpusError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewOf(rec))
	}
}

// resolveBeforeText picks the single configured before-text source.
func resolveBeforeText(w http.ResponseWriter, r *http.Request, deps Deps, req uploadRequest) (string, bool) {
	sources := 0
	for _, set := range []bool{req.BeforeText != "", req.FileBase64 != "", req.URL != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		httpError(w, http.StatusBadRequest, "invalid_request", "provide exactly one of before_text, file_base64, or url")
		return "", false
	}

	switch {
	case req.BeforeText != "":
		return req.BeforeText, true

	case req.FileBase64 != "":
		data, err := base64.StdEncoding.DecodeString(req.FileBase64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "decoding file: %v", err)
			return "", false
		}
		// extract.FromFile dispatches on the extension, so preserve it.
		tmp, err := os.CreateTemp("", "autocue-upload-*"+filepath.Ext(req.Filename))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "staging upload: %v", err)
			return "", false
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			httpError(w, http.StatusInternalServerError, "api_error", "staging upload: %v", err)
			return "", false
		}
		tmp.Close()

		text, err := extract.FromFile(tmp.Name())
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request", "extracting text: %v", err)
			return "", false
		}
		return text, true

	default:
		text, err := extract.FromURL(r.Context(), deps.HTTPClient, req.URL)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request", "fetching url: %v", err)
			return "", false
		}
		return text, true
	}
}

func handleListExamples(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Manager.List()
		if err != nil {
			corpusError(w, err)
			return
		}
		views := make([]exampleView, len(records))
		for i, rec := range records {
			views[i] = viewOf(rec)
		}
		writeJSON(w, http.StatusOK, map[string]any{"examples": views})
	}
}

func handleGetExample(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Manager.Get(chi.URLParam(r, "id"))
		if err != nil {
			corpusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rec))
	}
}

// replaceRequest is the JSON body for PUT /v1/examples/{id}.
type replaceRequest struct {
	BeforeText string `json:"before_text"`
	AfterText  string `json:"after_text"`
}

func handleReplaceExample(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req replaceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "parsing body: %v", err)
			return
		}

		id := chi.URLParam(r, "id")
		if err := deps.Manager.Replace(r.Context(), id, req.BeforeText, req.AfterText); err != nil {
			corpusError(w, err)
			return
		}

		rec, err := deps.Manager.Get(id)
		if err != nil {
			corpusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rec))
	}
}

func handleDeleteExample(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Manager.Delete(chi.URLParam(r, "id")); err != nil {
			corpusError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleReindex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := reindex.Enqueue(deps.Store, deps.CorpusStore)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "enqueueing reindex: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"jobs": n})
	}
}
