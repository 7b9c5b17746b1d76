package corpus

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

//go:embed seed/bundled.json
var bundledSeed []byte

// BatchEmbedder embeds several texts in one call. *retrieval.Embedder
// satisfies it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type seedFile struct {
	Version  string        `json:"version"`
	Examples []seedExample `json:"examples"`
}

type seedExample struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Category     Category `json:"category"`
	BeforeText   string   `json:"before_text"`
	AfterText    string   `json:"after_text"`
	Tags         string   `json:"tags"`
	QualityScore int      `json:"quality_score"`
}

func loadSeed() (seedFile, error) {
	var f seedFile
	if err := json.Unmarshal(bundledSeed, &f); err != nil {
		return seedFile{}, fmt.Errorf("parsing bundled seed: %w", err)
	}
	if f.Version == "" {
		return seedFile{}, errors.New("bundled seed has no version")
	}
	return f, nil
}

// Seed merges the bundled example corpus into the store. It is keyed on the
// seed version recorded in corpus_meta: when the store already carries the
// current version it returns without embedding anything. Otherwise every
// bundled example is embedded and applied — missing records are inserted as
// bundled, existing bundled records are updated in place, and records whose
// ID a user record already holds are left alone. Returns the number of
// records added and updated.
func Seed(ctx context.Context, store *Store, embedder BatchEmbedder) (added, updated int, err error) {
	seed, err := loadSeed()
	if err != nil {
		return 0, 0, err
	}

	current, err := store.BundledVersion()
	if err != nil {
		return 0, 0, err
	}
	if current == seed.Version {
		return 0, 0, nil
	}

	texts := make([]string, len(seed.Examples))
	for i, ex := range seed.Examples {
		texts[i] = ex.BeforeText
	}
	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, 0, fmt.Errorf("embedding bundled examples: %w", err)
	}
	if len(vecs) != len(seed.Examples) {
		return 0, 0, fmt.Errorf("embedder returned %d vectors for %d examples", len(vecs), len(seed.Examples))
	}

	for i, ex := range seed.Examples {
		rec := ExampleRecord{
			ID:           ex.ID,
			Title:        ex.Title,
			Category:     ex.Category,
			BeforeText:   ex.BeforeText,
			AfterText:    ex.AfterText,
			Tags:         ex.Tags,
			WordCount:    CountWords(ex.BeforeText),
			QualityScore: ex.QualityScore,
			Source:       SourceBundled,
			CreatedAt:    time.Now().UTC(),
		}

		existing, err := store.GetByID(ex.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := store.Insert(rec, vecs[i]); err != nil {
				return added, updated, fmt.Errorf("seeding %s: %w", ex.ID, err)
			}
			added++
		case err != nil:
			return added, updated, fmt.Errorf("looking up %s: %w", ex.ID, err)
		case existing.Source == SourceBundled:
			if err := store.applyBundled(rec, vecs[i]); err != nil {
				return added, updated, fmt.Errorf("updating bundled %s: %w", ex.ID, err)
			}
			updated++
		default:
			// A user record claimed this ID; their data wins.
		}
	}

	if err := store.SetBundledVersion(seed.Version); err != nil {
		return added, updated, err
	}
	return added, updated, nil
}
