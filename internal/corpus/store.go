package corpus

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Store persists example records and their embedding vectors in SQLite.
// Records live in example_scripts, vectors in embeddings (1:1, cascade
// deleted). A record and its vector are always written in one transaction.
type Store struct {
	db  *sql.DB
	dim int
}

// NewStore wraps an existing *sql.DB for corpus operations. dim is the
// required embedding dimension; vectors of any other length are rejected.
func NewStore(db *sql.DB, dim int) *Store {
	return &Store{db: db, dim: dim}
}

// Dimension returns the store's required embedding dimension.
func (s *Store) Dimension() int {
	return s.dim
}

// Insert writes a record and its embedding atomically. The vector length
// must match the configured dimension or ErrDimensionMismatch is returned
// with nothing persisted.
func (s *Store) Insert(rec ExampleRecord, vec []float32) error {
	if len(vec) != s.dim {
		return fmt.Errorf("vector has %d dimensions, store requires %d: %w", len(vec), s.dim, ErrDimensionMismatch)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := tx.Exec(`
		INSERT INTO example_scripts (id, title, category, before_text, after_text, tags, word_count, quality_score, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, string(rec.Category), rec.BeforeText, rec.AfterText,
		rec.Tags, rec.WordCount, rec.QualityScore, string(rec.Source),
		createdAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting record %s: %w", rec.ID, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO embeddings (script_id, embedding, dimension) VALUES (?, ?, ?)`,
		rec.ID, encodeFloat32s(vec), s.dim,
	); err != nil {
		return fmt.Errorf("inserting embedding for %s: %w", rec.ID, err)
	}

	return tx.Commit()
}

// Replace updates a record's text fields and embedding atomically.
// Bundled records are immutable.
func (s *Store) Replace(id, beforeText, afterText string, wordCount int, vec []float32) error {
	if len(vec) != s.dim {
		return fmt.Errorf("vector has %d dimensions, store requires %d: %w", len(vec), s.dim, ErrDimensionMismatch)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	var source string
	err = tx.QueryRow("SELECT source FROM example_scripts WHERE id = ?", id).Scan(&source)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up record %s: %w", id, err)
	}
	if Source(source) == SourceBundled {
		return ErrImmutableRecord
	}

	if _, err := tx.Exec(`
		UPDATE example_scripts SET before_text = ?, after_text = ?, word_count = ? WHERE id = ?`,
		beforeText, afterText, wordCount, id,
	); err != nil {
		return fmt.Errorf("updating record %s: %w", id, err)
	}

	if _, err := tx.Exec(`
		UPDATE embeddings SET embedding = ?, dimension = ? WHERE script_id = ?`,
		encodeFloat32s(vec), s.dim, id,
	); err != nil {
		return fmt.Errorf("updating embedding for %s: %w", id, err)
	}

	return tx.Commit()
}

// ReplaceVector swaps only the stored embedding, used by the reindex worker
// after an embed-model change. Applies to bundled and user records alike.
func (s *Store) ReplaceVector(id string, vec []float32) error {
	if len(vec) != s.dim {
		return fmt.Errorf("vector has %d dimensions, store requires %d: %w", len(vec), s.dim, ErrDimensionMismatch)
	}
	res, err := s.db.Exec(`UPDATE embeddings SET embedding = ?, dimension = ? WHERE script_id = ?`,
		encodeFloat32s(vec), s.dim, id)
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record; the embedding row is cascade-deleted.
// Bundled records are immutable.
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	var source string
	err = tx.QueryRow("SELECT source FROM example_scripts WHERE id = ?", id).Scan(&source)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up record %s: %w", id, err)
	}
	if Source(source) == SourceBundled {
		return ErrImmutableRecord
	}

	if _, err := tx.Exec("DELETE FROM example_scripts WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}

	return tx.Commit()
}

// applyBundled overwrites a bundled record and its embedding in one
// transaction. It is the seeding path's counterpart to Replace: bundled
// records are immutable to users, but a new bundled corpus version may
// revise them.
func (s *Store) applyBundled(rec ExampleRecord, vec []float32) error {
	if len(vec) != s.dim {
		return fmt.Errorf("vector has %d dimensions, store requires %d: %w", len(vec), s.dim, ErrDimensionMismatch)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning bundled update transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE example_scripts
		SET title = ?, category = ?, before_text = ?, after_text = ?, tags = ?, word_count = ?, quality_score = ?
		WHERE id = ? AND source = ?`,
		rec.Title, string(rec.Category), rec.BeforeText, rec.AfterText,
		rec.Tags, rec.WordCount, rec.QualityScore, rec.ID, string(SourceBundled),
	)
	if err != nil {
		return fmt.Errorf("updating bundled record %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`
		UPDATE embeddings SET embedding = ?, dimension = ? WHERE script_id = ?`,
		encodeFloat32s(vec), s.dim, rec.ID,
	); err != nil {
		return fmt.Errorf("updating embedding for %s: %w", rec.ID, err)
	}

	return tx.Commit()
}

// BundledVersion reports the version of the bundled corpus last merged into
// this store, or "" when no bundled corpus has been seeded yet.
func (s *Store) BundledVersion() (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM corpus_meta WHERE key = 'bundled_version'").Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading bundled version: %w", err)
	}
	return v, nil
}

// SetBundledVersion records the bundled corpus version after a merge.
func (s *Store) SetBundledVersion(v string) error {
	_, err := s.db.Exec(`
		INSERT INTO corpus_meta (key, value, updated_at) VALUES ('bundled_version', ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		v, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing bundled version: %w", err)
	}
	return nil
}

const recordColumns = "id, title, category, before_text, after_text, tags, word_count, quality_score, source, created_at"

// GetByID returns a single record without its embedding.
func (s *Store) GetByID(id string) (ExampleRecord, error) {
	row := s.db.QueryRow("SELECT "+recordColumns+" FROM example_scripts WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return ExampleRecord{}, ErrNotFound
	}
	if err != nil {
		return ExampleRecord{}, err
	}
	return rec, nil
}

// ListAll returns all records ordered by creation time, without embeddings.
func (s *Store) ListAll() ([]ExampleRecord, error) {
	rows, err := s.db.Query("SELECT " + recordColumns + " FROM example_scripts ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []ExampleRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Vectored pairs a record with its embedding for similarity search.
type Vectored struct {
	Record ExampleRecord
	Vector []float32
}

// All returns every record joined with its embedding, for brute-force search.
func (s *Store) All() ([]Vectored, error) {
	rows, err := s.db.Query(`
		SELECT e.id, e.title, e.category, e.before_text, e.after_text, e.tags,
		       e.word_count, e.quality_score, e.source, e.created_at, v.embedding
		FROM example_scripts e
		JOIN embeddings v ON v.script_id = e.id
		ORDER BY e.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var out []Vectored
	for rows.Next() {
		var rec ExampleRecord
		var category, source, createdAt string
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.Title, &category, &rec.BeforeText, &rec.AfterText,
			&rec.Tags, &rec.WordCount, &rec.QualityScore, &source, &createdAt, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		rec.Category = Category(category)
		rec.Source = Source(source)
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
		}
		rec.CreatedAt = t
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", rec.ID, err)
		}
		out = append(out, Vectored{Record: rec, Vector: vec})
	}
	return out, rows.Err()
}

// Count returns the number of records in the corpus.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM example_scripts").Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (ExampleRecord, error) {
	var rec ExampleRecord
	var category, source, createdAt string
	if err := row.Scan(&rec.ID, &rec.Title, &category, &rec.BeforeText, &rec.AfterText,
		&rec.Tags, &rec.WordCount, &rec.QualityScore, &source, &createdAt); err != nil {
		return ExampleRecord{}, err
	}
	rec.Category = Category(category)
	rec.Source = Source(source)
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return ExampleRecord{}, fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
	}
	rec.CreatedAt = t
	return rec, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
