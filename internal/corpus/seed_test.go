package corpus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBatchEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeBatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func TestSeedFreshStore(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeBatchEmbedder{vec: []float32{1, 0, 0, 0}}

	added, updated, err := Seed(context.Background(), s, emb)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if added == 0 || updated != 0 {
		t.Fatalf("Seed added %d updated %d, want added > 0 and updated 0", added, updated)
	}
	if emb.calls != 1 {
		t.Errorf("EmbedBatch called %d times, want 1", emb.calls)
	}

	seed, err := loadSeed()
	if err != nil {
		t.Fatalf("loadSeed: %v", err)
	}
	if added != len(seed.Examples) {
		t.Errorf("added = %d, want %d", added, len(seed.Examples))
	}
	for _, ex := range seed.Examples {
		rec, err := s.GetByID(ex.ID)
		if err != nil {
			t.Fatalf("GetByID(%s): %v", ex.ID, err)
		}
		if rec.Source != SourceBundled {
			t.Errorf("%s source = %q, want bundled", ex.ID, rec.Source)
		}
		if rec.WordCount != CountWords(ex.BeforeText) {
			t.Errorf("%s word count = %d, want %d", ex.ID, rec.WordCount, CountWords(ex.BeforeText))
		}
	}

	v, err := s.BundledVersion()
	if err != nil {
		t.Fatalf("BundledVersion: %v", err)
	}
	if v != seed.Version {
		t.Errorf("bundled version = %q, want %q", v, seed.Version)
	}
}

func TestSeedRecordsAreImmutable(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := Seed(context.Background(), s, &fakeBatchEmbedder{vec: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	seed, _ := loadSeed()
	id := seed.Examples[0].ID

	m := NewManager(s, &fakeEmbedder{vec: []float32{0, 1, 0, 0}}, nil)
	long := seed.Examples[0].BeforeText
	if err := m.Replace(context.Background(), id, long, long); !errors.Is(err, ErrImmutableRecord) {
		t.Errorf("Replace on seeded record = %v, want ErrImmutableRecord", err)
	}
	if err := m.Delete(id); !errors.Is(err, ErrImmutableRecord) {
		t.Errorf("Delete on seeded record = %v, want ErrImmutableRecord", err)
	}
}

func TestSeedSameVersionNoOp(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeBatchEmbedder{vec: []float32{1, 0, 0, 0}}

	if _, _, err := Seed(context.Background(), s, emb); err != nil {
		t.Fatalf("first Seed: %v", err)
	}

	added, updated, err := Seed(context.Background(), s, emb)
	if err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if added != 0 || updated != 0 {
		t.Errorf("second Seed added %d updated %d, want 0/0", added, updated)
	}
	if emb.calls != 1 {
		t.Errorf("EmbedBatch called %d times across both seeds, want 1", emb.calls)
	}
}

func TestSeedVersionBumpUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := Seed(context.Background(), s, &fakeBatchEmbedder{vec: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	// Roll the recorded version back to force a re-merge.
	if err := s.SetBundledVersion("0"); err != nil {
		t.Fatalf("SetBundledVersion: %v", err)
	}

	added, updated, err := Seed(context.Background(), s, &fakeBatchEmbedder{vec: []float32{0, 1, 0, 0}})
	if err != nil {
		t.Fatalf("re-Seed: %v", err)
	}
	seed, _ := loadSeed()
	if added != 0 || updated != len(seed.Examples) {
		t.Errorf("re-Seed added %d updated %d, want 0/%d", added, updated, len(seed.Examples))
	}

	// The embeddings must reflect the new vectors.
	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	for _, v := range all {
		if v.Vector[1] != 1 {
			t.Errorf("%s vector not refreshed: %v", v.Record.ID, v.Vector)
		}
	}
}

func TestSeedSkipsUserRecordWithSameID(t *testing.T) {
	s := newTestStore(t)
	seed, _ := loadSeed()

	// A user record already holds a bundled ID.
	rec := validRecord(SourceUser)
	rec.ID = seed.Examples[0].ID
	rec.Title = "User's own take"
	rec.CreatedAt = time.Now().UTC()
	if err := s.Insert(rec, []float32{0, 0, 1, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	added, updated, err := Seed(context.Background(), s, &fakeBatchEmbedder{vec: []float32{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if added != len(seed.Examples)-1 {
		t.Errorf("added = %d, want %d", added, len(seed.Examples)-1)
	}
	if updated != 0 {
		t.Errorf("updated = %d, want 0", updated)
	}

	got, err := s.GetByID(rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "User's own take" || got.Source != SourceUser {
		t.Errorf("user record overwritten by seed: %+v", got)
	}
}
