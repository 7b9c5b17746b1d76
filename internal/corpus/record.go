// Package corpus manages the example corpus: labeled before/after script
// pairs and their embedding vectors, stored together in SQLite.
package corpus

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a record lookup matches nothing.
	ErrNotFound = errors.New("example not found")

	// ErrImmutableRecord is returned on attempts to replace or delete a
	// bundled example. Bundled examples ship with the application and are
	// read-only; only user-uploaded records can be mutated.
	ErrImmutableRecord = errors.New("bundled examples cannot be modified")

	// ErrDimensionMismatch is returned when an embedding vector's length
	// does not match the store's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalid wraps record validation failures.
	ErrInvalid = errors.New("invalid example")
)

// Category classifies an example by content style.
type Category string

const (
	CategoryEducational Category = "educational"
	CategoryBusiness    Category = "business"
	CategoryNarrative   Category = "narrative"
	CategoryInterview   Category = "interview"
	CategoryDocumentary Category = "documentary"
	CategoryUserCustom  Category = "user-custom"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryEducational, CategoryBusiness, CategoryNarrative,
		CategoryInterview, CategoryDocumentary, CategoryUserCustom:
		return true
	}
	return false
}

// Source identifies where a record came from.
type Source string

const (
	SourceBundled Source = "bundled"
	SourceUser    Source = "user-uploaded"
)

// ExampleRecord is one before/after training pair in the corpus.
type ExampleRecord struct {
	ID           string
	Title        string
	Category     Category
	BeforeText   string
	AfterText    string
	Tags         string
	WordCount    int
	QualityScore int // 1-5, 0 when unset
	Source       Source
	CreatedAt    time.Time
}

const (
	minTextChars = 50
	maxTextChars = 100_000
	maxTitleLen  = 200
)

// Validate checks the record's metadata and text bounds. Failures wrap
// ErrInvalid and describe the first problem found; the messages are safe to
// show to users.
func (r *ExampleRecord) Validate() error {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if len(title) > maxTitleLen {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalid, maxTitleLen)
	}
	if strings.ContainsAny(title, "\r\n") {
		return fmt.Errorf("%w: title must not contain newlines", ErrInvalid)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalid, r.Category)
	}
	if err := validateText("before text", r.BeforeText); err != nil {
		return err
	}
	if err := validateText("after text", r.AfterText); err != nil {
		return err
	}
	if r.QualityScore != 0 && (r.QualityScore < 1 || r.QualityScore > 5) {
		return fmt.Errorf("%w: quality score %d out of range 1-5", ErrInvalid, r.QualityScore)
	}
	return nil
}

func validateText(field, text string) error {
	n := len(strings.TrimSpace(text))
	if n < minTextChars {
		return fmt.Errorf("%w: %s must be at least %d characters, got %d", ErrInvalid, field, minTextChars, n)
	}
	if n > maxTextChars {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalid, field, maxTextChars)
	}
	return nil
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
