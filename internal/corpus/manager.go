package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Embedder produces an embedding vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Suggester proposes a category for an example's before-text.
// Implementations must return a valid Category even on failure.
type Suggester interface {
	Suggest(ctx context.Context, beforeText string) Category
}

// UploadMeta carries caller-supplied metadata for a new example.
// Category may be empty; a Suggester fills it in when configured,
// otherwise it falls back to user-custom.
type UploadMeta struct {
	Title        string
	Category     Category
	Tags         string
	QualityScore int
}

// Manager handles the example lifecycle: uploads, replacements, and deletes.
// Every mutation embeds before writing, so a failed embedding call leaves the
// corpus untouched. Mutations bump a generation counter that callers can use
// to invalidate cached views of the corpus.
type Manager struct {
	store      *Store
	embedder   Embedder
	suggester  Suggester
	generation atomic.Uint64
}

// NewManager builds a Manager. suggester may be nil.
func NewManager(store *Store, embedder Embedder, suggester Suggester) *Manager {
	return &Manager{store: store, embedder: embedder, suggester: suggester}
}

// Generation returns the current corpus generation. It increases on every
// successful mutation.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// Upload validates, embeds, and stores a new user example, returning its ID.
func (m *Manager) Upload(ctx context.Context, beforeText, afterText string, meta UploadMeta) (string, error) {
	if meta.Category == "" {
		meta.Category = m.suggestCategory(ctx, beforeText)
	}

	rec := ExampleRecord{
		ID:           uuid.NewString(),
		Title:        meta.Title,
		Category:     meta.Category,
		BeforeText:   beforeText,
		AfterText:    afterText,
		Tags:         meta.Tags,
		WordCount:    CountWords(beforeText),
		QualityScore: meta.QualityScore,
		Source:       SourceUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	vec, err := m.embedder.Embed(ctx, beforeText)
	if err != nil {
		return "", fmt.Errorf("embedding example: %w", err)
	}

	if err := m.store.Insert(rec, vec); err != nil {
		return "", err
	}

	m.generation.Add(1)
	slog.Info("example uploaded", "id", rec.ID, "category", rec.Category, "words", rec.WordCount)
	return rec.ID, nil
}

// Replace updates an existing user example's texts and re-embeds it.
func (m *Manager) Replace(ctx context.Context, id, beforeText, afterText string) error {
	existing, err := m.store.GetByID(id)
	if err != nil {
		return err
	}
	if existing.Source == SourceBundled {
		return ErrImmutableRecord
	}

	updated := existing
	updated.BeforeText = beforeText
	updated.AfterText = afterText
	if err := updated.Validate(); err != nil {
		return err
	}

	vec, err := m.embedder.Embed(ctx, beforeText)
	if err != nil {
		return fmt.Errorf("embedding example: %w", err)
	}

	if err := m.store.Replace(id, beforeText, afterText, CountWords(beforeText), vec); err != nil {
		return err
	}

	m.generation.Add(1)
	slog.Info("example replaced", "id", id)
	return nil
}

// Delete removes a user example.
func (m *Manager) Delete(id string) error {
	if err := m.store.Delete(id); err != nil {
		return err
	}
	m.generation.Add(1)
	slog.Info("example deleted", "id", id)
	return nil
}

// List returns all examples without embeddings.
func (m *Manager) List() ([]ExampleRecord, error) {
	return m.store.ListAll()
}

// Get returns a single example by ID.
func (m *Manager) Get(id string) (ExampleRecord, error) {
	return m.store.GetByID(id)
}

func (m *Manager) suggestCategory(ctx context.Context, beforeText string) Category {
	if m.suggester == nil {
		return CategoryUserCustom
	}
	return m.suggester.Suggest(ctx, beforeText)
}
