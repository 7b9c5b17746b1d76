package reindex

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/retrieval"
	"github.com/teleprompt/autocue/internal/storage"
)

const testDim = 4

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

func setup(t *testing.T) (*storage.Store, *corpus.Store) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, corpus.NewStore(db.DB(), testDim)
}

func insert(t *testing.T, cs *corpus.Store, vec []float32) string {
	t.Helper()
	rec := corpus.ExampleRecord{
		ID:         uuid.NewString(),
		Title:      "Example",
		Category:   corpus.CategoryBusiness,
		BeforeText: strings.Repeat("raw transcript for the reindex test. ", 3),
		AfterText:  strings.Repeat("Polished transcript for the test. ", 3),
		Source:     corpus.SourceUser,
		CreatedAt:  time.Now().UTC(),
	}
	if err := cs.Insert(rec, vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return rec.ID
}

func TestEnqueueAndRunOnce(t *testing.T) {
	db, cs := setup(t)
	old := []float32{1, 0, 0, 0}
	insert(t, cs, old)
	insert(t, cs, old)

	n, err := Enqueue(db, cs)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if n != 2 {
		t.Fatalf("Enqueue = %d jobs, want 2", n)
	}

	updated := []float32{0, 0, 0, 1}
	w := NewWorker(db, cs, retrieval.NewEmbedder(fakeProvider{vec: updated}, "all-minilm"), time.Millisecond)

	handled := w.RunOnce(context.Background())
	if handled != 2 {
		t.Fatalf("RunOnce handled %d jobs, want 2", handled)
	}

	all, err := cs.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	for _, v := range all {
		if v.Vector[3] != 1 {
			t.Errorf("record %s vector not replaced: %v", v.Record.ID, v.Vector)
		}
	}
}

func TestFailedJobRequeuedWithBackoff(t *testing.T) {
	db, cs := setup(t)
	insert(t, cs, []float32{1, 0, 0, 0})

	if _, err := Enqueue(db, cs); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(db, cs, retrieval.NewEmbedder(fakeProvider{err: errors.New("model offline")}, "all-minilm"), time.Millisecond)

	if handled := w.RunOnce(context.Background()); handled != 1 {
		t.Fatalf("RunOnce handled %d jobs, want 1", handled)
	}

	// Job is requeued for a future run_after, so a second pass finds nothing.
	if handled := w.RunOnce(context.Background()); handled != 0 {
		t.Errorf("backoff not applied: second pass handled %d jobs", handled)
	}

	// Vector untouched after the failure.
	all, _ := cs.All()
	if all[0].Vector[0] != 1 {
		t.Errorf("vector changed despite embed failure: %v", all[0].Vector)
	}
}

type batchRecorder struct {
	vec     []float32
	batches [][]string
}

func (b *batchRecorder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.batches = append(b.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = b.vec
	}
	return out, nil
}

func TestReembedsInBatches(t *testing.T) {
	db, cs := setup(t)
	old := []float32{1, 0, 0, 0}
	for i := 0; i < 5; i++ {
		insert(t, cs, old)
	}
	if _, err := Enqueue(db, cs); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rec := &batchRecorder{vec: []float32{0, 0, 0, 1}}
	w := NewWorker(db, cs, rec, time.Millisecond)

	if handled := w.RunOnce(context.Background()); handled != 5 {
		t.Fatalf("RunOnce handled %d jobs, want 5", handled)
	}

	// All five records go through a single batched embed call.
	if len(rec.batches) != 1 {
		t.Fatalf("EmbedBatch called %d times, want 1 (batches: %v)", len(rec.batches), rec.batches)
	}
	if len(rec.batches[0]) != 5 {
		t.Errorf("batch carried %d texts, want 5", len(rec.batches[0]))
	}

	all, err := cs.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	for _, v := range all {
		if v.Vector[3] != 1 {
			t.Errorf("record %s vector not replaced: %v", v.Record.ID, v.Vector)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	db, cs := setup(t)
	w := NewWorker(db, cs, retrieval.NewEmbedder(fakeProvider{vec: []float32{1, 0, 0, 0}}, "all-minilm"), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
