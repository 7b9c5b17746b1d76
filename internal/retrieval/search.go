package retrieval

import (
	"fmt"
	"math"
	"sort"

	"github.com/teleprompt/autocue/internal/corpus"
)

// Default search parameters.
const (
	DefaultTopK          = 10
	DefaultMinSimilarity = 0.4
)

// Match is one search result: a corpus record and its similarity score.
type Match struct {
	Record corpus.ExampleRecord
	Score  float32
}

// Searcher performs brute-force cosine similarity search over the corpus.
type Searcher struct {
	store *corpus.Store
}

// NewSearcher wraps a corpus store for similarity search.
func NewSearcher(store *corpus.Store) *Searcher {
	return &Searcher{store: store}
}

// Search scores every stored vector against queryVec, drops matches below
// minSim, and returns at most topK results. Ordering is deterministic:
// score descending, then quality score descending, then creation time
// ascending. An empty corpus returns an empty slice and no error.
func (s *Searcher) Search(queryVec []float32, topK int, minSim float32) ([]Match, error) {
	all, err := s.store.All()
	if err != nil {
		return nil, fmt.Errorf("loading corpus vectors: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	queryNorm := norm(queryVec)
	if queryNorm == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(all))
	for _, v := range all {
		score := cosine(queryVec, v.Vector, queryNorm)
		if score < minSim {
			continue
		}
		matches = append(matches, Match{Record: v.Record, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Record.QualityScore != matches[j].Record.QualityScore {
			return matches[i].Record.QualityScore > matches[j].Record.QualityScore
		}
		return matches[i].Record.CreatedAt.Before(matches[j].Record.CreatedAt)
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}
