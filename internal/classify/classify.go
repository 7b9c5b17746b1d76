// Package classify suggests a category for uploaded examples using the fast
// local model.
package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/provider"
)

// suggestTimeout bounds the classification call: a slow suggestion is worth
// less than a fast upload.
const suggestTimeout = 3 * time.Second

var categorySchema = &provider.Schema{
	Type: "object",
	Properties: map[string]provider.SchemaProperty{
		"category": {
			Type:        "string",
			Description: "The content category of the script",
			Enum: []string{
				string(corpus.CategoryEducational),
				string(corpus.CategoryBusiness),
				string(corpus.CategoryNarrative),
				string(corpus.CategoryInterview),
				string(corpus.CategoryDocumentary),
				string(corpus.CategoryUserCustom),
			},
		},
	},
	Required: []string{"category"},
}

const systemPrompt = `Classify the following script excerpt into exactly one category:
educational, business, narrative, interview, documentary, or user-custom.
Respond with JSON only.`

// maxExcerptChars limits how much text goes to the classifier; the opening
// of a script is enough to identify its style.
const maxExcerptChars = 2000

// Classifier suggests categories via a local chat model.
type Classifier struct {
	ollama *provider.Ollama
	model  string
}

// New creates a Classifier using the given fast model.
func New(ollama *provider.Ollama, model string) *Classifier {
	return &Classifier{ollama: ollama, model: model}
}

// Suggest returns a category for beforeText. Any failure, timeout, or
// unparseable response falls back to user-custom; Suggest never errors.
func (c *Classifier) Suggest(ctx context.Context, beforeText string) corpus.Category {
	ctx, cancel := context.WithTimeout(ctx, suggestTimeout)
	defer cancel()

	excerpt := beforeText
	if len(excerpt) > maxExcerptChars {
		excerpt = excerpt[:maxExcerptChars]
	}

	resp, err := c.ollama.Chat(ctx, c.model, []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: excerpt},
	}, categorySchema)
	if err != nil {
		slog.Debug("category suggestion failed", "error", err)
		return corpus.CategoryUserCustom
	}

	var parsed struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		slog.Debug("category suggestion unparseable", "response", resp)
		return corpus.CategoryUserCustom
	}

	cat := corpus.Category(strings.TrimSpace(strings.ToLower(parsed.Category)))
	if !cat.Valid() {
		return corpus.CategoryUserCustom
	}
	return cat
}
