package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Result is one completed formatting run kept in local history.
type Result struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	InputText    string    `json:"input_text"`
	OutputText   string    `json:"output_text"`
	OutputHTML   string    `json:"output_html"`
	Model        string    `json:"model"`
	ExampleCount int       `json:"example_count"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	EditHistory  string    `json:"edit_history"` // JSON array stored as text
}

// Job is a queued background task (currently only example re-embedding).
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
