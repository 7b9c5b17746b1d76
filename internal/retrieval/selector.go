package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teleprompt/autocue/internal/corpus"
)

// minInputChars is the retrieval gate: inputs at or below this length after
// trimming carry too little signal to embed, so retrieval is skipped.
const minInputChars = 50

// defaultSelectionCap limits how many examples go into the prompt when the
// caller has not narrowed the corpus to specific IDs.
const defaultSelectionCap = 3

// Selector decides which corpus examples accompany a given input.
type Selector struct {
	embedder *Embedder
	searcher *Searcher
	topK     int
	minSim   float32
}

// NewSelector builds a Selector. topK and minSim of zero fall back to the
// package defaults.
func NewSelector(embedder *Embedder, searcher *Searcher, topK int, minSim float32) *Selector {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minSim <= 0 {
		minSim = DefaultMinSimilarity
	}
	return &Selector{embedder: embedder, searcher: searcher, topK: topK, minSim: minSim}
}

// Select returns the examples to include in the prompt and a status line for
// the caller's progress channel. Retrieval failures never fail the caller:
// they degrade to zero examples with the failure noted in the status.
//
// When enabledIDs is empty the top-ranked examples are capped at three; when
// the caller has explicitly enabled IDs, every ranked match in the set is
// returned uncapped.
func (s *Selector) Select(ctx context.Context, inputText string, enabledIDs []string) ([]corpus.ExampleRecord, string) {
	if len(strings.TrimSpace(inputText)) <= minInputChars {
		return nil, "input too short for retrieval, formatting without examples"
	}

	queryVec, err := s.embedder.Embed(ctx, inputText)
	if err != nil {
		slog.Warn("retrieval degraded", "stage", "embed", "error", err)
		return nil, fmt.Sprintf("RAG search failed: %v", err)
	}

	matches, err := s.searcher.Search(queryVec, s.topK, s.minSim)
	if err != nil {
		slog.Warn("retrieval degraded", "stage", "search", "error", err)
		return nil, fmt.Sprintf("RAG search failed: %v", err)
	}

	var selected []corpus.ExampleRecord
	if len(enabledIDs) == 0 {
		for _, m := range matches {
			if len(selected) == defaultSelectionCap {
				break
			}
			selected = append(selected, m.Record)
		}
	} else {
		enabled := make(map[string]bool, len(enabledIDs))
		for _, id := range enabledIDs {
			enabled[id] = true
		}
		for _, m := range matches {
			if enabled[m.Record.ID] {
				selected = append(selected, m.Record)
			}
		}
	}

	return selected, fmt.Sprintf("using %d example(s)", len(selected))
}
