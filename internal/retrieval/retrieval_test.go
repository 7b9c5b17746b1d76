package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/storage"
)

const testDim = 4

func newTestCorpus(t *testing.T) *corpus.Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return corpus.NewStore(db.DB(), testDim)
}

func insertExample(t *testing.T, s *corpus.Store, title string, quality int, createdAt time.Time, vec []float32) string {
	t.Helper()
	rec := corpus.ExampleRecord{
		ID:           uuid.NewString(),
		Title:        title,
		Category:     corpus.CategoryBusiness,
		BeforeText:   strings.Repeat("raw notes before the edit pass. ", 3),
		AfterText:    strings.Repeat("Cleaned-up teleprompter copy. ", 3),
		WordCount:    18,
		QualityScore: quality,
		Source:       corpus.SourceUser,
		CreatedAt:    createdAt,
	}
	if err := s.Insert(rec, vec); err != nil {
		t.Fatalf("inserting %s: %v", title, err)
	}
	return rec.ID
}

func TestSearchOrdersByScore(t *testing.T) {
	s := newTestCorpus(t)
	now := time.Now().UTC().Truncate(time.Second)

	insertExample(t, s, "far", 0, now, []float32{0, 1, 0, 0})
	insertExample(t, s, "close", 0, now, []float32{0.9, 0.1, 0, 0})
	insertExample(t, s, "exact", 0, now, []float32{1, 0, 0, 0})

	matches, err := NewSearcher(s).Search([]float32{1, 0, 0, 0}, 10, 0.4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 (orthogonal vector below threshold)", len(matches))
	}
	if matches[0].Record.Title != "exact" || matches[1].Record.Title != "close" {
		t.Errorf("order = [%s, %s], want [exact, close]", matches[0].Record.Title, matches[1].Record.Title)
	}
	if matches[0].Score < 0.999 {
		t.Errorf("exact match score = %f, want ~1.0", matches[0].Score)
	}
}

func TestSearchTieBreaks(t *testing.T) {
	s := newTestCorpus(t)
	base := time.Now().UTC().Truncate(time.Second)
	vec := []float32{1, 0, 0, 0}

	// Same vector, so identical scores: quality desc breaks the tie first,
	// then older creation time wins.
	insertExample(t, s, "low quality", 2, base, vec)
	insertExample(t, s, "high quality", 5, base.Add(time.Hour), vec)
	insertExample(t, s, "older", 3, base, vec)
	insertExample(t, s, "newer", 3, base.Add(2*time.Hour), vec)

	matches, err := NewSearcher(s).Search(vec, 10, 0.4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"high quality", "older", "newer", "low quality"}
	if len(matches) != len(want) {
		t.Fatalf("got %d matches, want %d", len(matches), len(want))
	}
	for i, title := range want {
		if matches[i].Record.Title != title {
			t.Errorf("matches[%d] = %q, want %q", i, matches[i].Record.Title, title)
		}
	}
}

func TestSearchEmptyCorpus(t *testing.T) {
	s := newTestCorpus(t)
	matches, err := NewSearcher(s).Search([]float32{1, 0, 0, 0}, 10, 0.4)
	if err != nil {
		t.Fatalf("Search on empty corpus: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches from empty corpus", len(matches))
	}
}

func TestSearchTopKTruncation(t *testing.T) {
	s := newTestCorpus(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		insertExample(t, s, "ex", 0, now.Add(time.Duration(i)*time.Minute), []float32{1, 0, 0, 0})
	}

	matches, err := NewSearcher(s).Search([]float32{1, 0, 0, 0}, 2, 0.4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("got %d matches, want topK=2", len(matches))
	}
}

type fakeProvider struct {
	vec []float32
	err error
}

func (f fakeProvider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func longInput() string {
	return strings.Repeat("today we are going to walk through the quarterly numbers. ", 3)
}

func TestSelectGateShortInput(t *testing.T) {
	s := newTestCorpus(t)
	sel := NewSelector(
		NewEmbedder(fakeProvider{err: errors.New("must not be called")}, "all-minilm"),
		NewSearcher(s), 0, 0,
	)

	examples, status := sel.Select(context.Background(), "  short input  ", nil)
	if len(examples) != 0 {
		t.Errorf("got %d examples for short input", len(examples))
	}
	if !strings.Contains(status, "too short") {
		t.Errorf("status = %q", status)
	}
}

func TestSelectCapsWithoutEnabledIDs(t *testing.T) {
	s := newTestCorpus(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		insertExample(t, s, "ex", 0, now.Add(time.Duration(i)*time.Minute), []float32{1, 0, 0, 0})
	}

	sel := NewSelector(NewEmbedder(fakeProvider{vec: []float32{1, 0, 0, 0}}, "all-minilm"), NewSearcher(s), 0, 0)

	examples, status := sel.Select(context.Background(), longInput(), nil)
	if len(examples) != 3 {
		t.Errorf("got %d examples, want cap of 3", len(examples))
	}
	if !strings.Contains(status, "3 example") {
		t.Errorf("status = %q", status)
	}
}

func TestSelectEnabledIDsUncapped(t *testing.T) {
	s := newTestCorpus(t)
	now := time.Now().UTC()
	var ids []string
	for i := 0; i < 5; i++ {
		id := insertExample(t, s, "ex", 0, now.Add(time.Duration(i)*time.Minute), []float32{1, 0, 0, 0})
		ids = append(ids, id)
	}

	sel := NewSelector(NewEmbedder(fakeProvider{vec: []float32{1, 0, 0, 0}}, "all-minilm"), NewSearcher(s), 0, 0)

	// All five enabled: no cap applies.
	examples, _ := sel.Select(context.Background(), longInput(), ids)
	if len(examples) != 5 {
		t.Errorf("got %d examples with all IDs enabled, want 5", len(examples))
	}

	// Only one enabled: others are filtered out even though they rank.
	examples, _ = sel.Select(context.Background(), longInput(), ids[:1])
	if len(examples) != 1 {
		t.Errorf("got %d examples with one ID enabled, want 1", len(examples))
	}
	if examples[0].ID != ids[0] {
		t.Errorf("selected %s, want %s", examples[0].ID, ids[0])
	}
}

func TestSelectDegradesOnEmbedFailure(t *testing.T) {
	s := newTestCorpus(t)
	sel := NewSelector(NewEmbedder(fakeProvider{err: errors.New("model offline")}, "all-minilm"), NewSearcher(s), 0, 0)

	examples, status := sel.Select(context.Background(), longInput(), nil)
	if len(examples) != 0 {
		t.Errorf("got %d examples after embed failure", len(examples))
	}
	if !strings.HasPrefix(status, "RAG search failed:") {
		t.Errorf("status = %q, want RAG search failed prefix", status)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	// Provider returns a vector derived from the text so order is observable.
	p := embedByLength{}
	e := NewEmbedder(p, "all-minilm")

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "ggggggg", "hhhhhhhh"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if v[0] != float32(len(texts[i])) {
			t.Errorf("vectors[%d][0] = %f, want %d", i, v[0], len(texts[i]))
		}
	}
}

type embedByLength struct{}

func (embedByLength) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return []float32{float32(len(text)), 0, 0, 0}, nil
}

func TestEmbedBatchFailureAborts(t *testing.T) {
	e := NewEmbedder(fakeProvider{err: errors.New("down")}, "all-minilm")
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("EmbedBatch succeeded with failing provider")
	}
}
