// Package pipeline drives one format request end to end: retrieval, prompt
// build, streamed generation, validation, and the retry loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/prompt"
	"github.com/teleprompt/autocue/internal/provider"
	"github.com/teleprompt/autocue/internal/storage"
)

var (
	// ErrCancelled is returned when the caller's context is cancelled.
	// A cancelled request is never retried.
	ErrCancelled = errors.New("cancelled by user")

	// ErrEmptyOutput marks a generation that streamed to completion but
	// produced no usable text. It drives the retry loop.
	ErrEmptyOutput = errors.New("no output received — the provider may have timed out")

	// ErrRetriesExhausted wraps the last underlying error after the final
	// attempt fails.
	ErrRetriesExhausted = errors.New("all attempts failed")

	// ErrBusy is returned when a request arrives while another is in flight.
	ErrBusy = errors.New("a format request is already in progress")
)

// maxAttempts is the total attempt budget per request.
const maxAttempts = 3

// Session states.
type State string

const (
	StateIdle       State = "idle"
	StateRetrieving State = "retrieving"
	StatePrompting  State = "prompting"
	StateStreaming  State = "streaming"
	StateValidating State = "validating"
	StateComplete   State = "complete"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Request is one format invocation.
type Request struct {
	InputText         string
	Model             string
	Options           map[string]any
	EnabledExampleIDs []string

	// OnProgress receives percentages 0-100, non-decreasing within one
	// attempt. OnStatus receives human-readable updates plus the number of
	// examples in use. Both may be nil.
	OnProgress func(percent int)
	OnStatus   func(message string, exampleCount int)
}

// Result is a completed format run.
type Result struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Text         string    `json:"text"`
	HTML         string    `json:"html"`
	Model        string    `json:"model"`
	ExampleCount int       `json:"example_count"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
}

// Selector picks the examples to accompany an input. Failures degrade to an
// empty selection with an explanatory status, never an error.
type Selector interface {
	Select(ctx context.Context, inputText string, enabledIDs []string) ([]corpus.ExampleRecord, string)
}

// session is the transient state of one in-flight request.
type session struct {
	req      Request
	state    State
	attempt  int
	progress int
}

// setProgress advances progress, never moving backwards within an attempt.
func (s *session) setProgress(p int) {
	if p < s.progress {
		return
	}
	s.progress = p
	if s.req.OnProgress != nil {
		s.req.OnProgress(p)
	}
}

// reset returns the session to the attempt baseline for a retry.
func (s *session) reset() {
	s.progress = 0
	s.state = StateRetrieving
}

func (s *session) status(msg string, count int) {
	if s.req.OnStatus != nil {
		s.req.OnStatus(msg, count)
	}
}

// Processor orchestrates format requests. One request may be in flight at a
// time; a second concurrent call fails with ErrBusy.
type Processor struct {
	selector  Selector
	builder   prompt.Builder
	generator provider.Generator
	store     *storage.Store // optional result history

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inFlight bool
}

// New builds a Processor. store may be nil to skip result history.
func New(selector Selector, builder prompt.Builder, generator provider.Generator, store *storage.Store) *Processor {
	return &Processor{
		selector:  selector,
		builder:   builder,
		generator: generator,
		store:     store,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Process runs the full pipeline for one request, retrying failed attempts
// with exponential backoff. Cancellation always wins over retry.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	p.inFlight = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	requestID := uuid.NewString()
	sess := &session{req: req, state: StateIdle}

	var lastErr error
	for sess.attempt = 0; sess.attempt < maxAttempts; sess.attempt++ {
		if sess.attempt > 0 {
			// Cancellation beats retry.
			if ctx.Err() != nil {
				sess.state = StateCancelled
				return nil, ErrCancelled
			}
			backoff := time.Duration(math.Pow(2, float64(sess.attempt-1))) * time.Second
			slog.Info("retrying format request", "request_id", requestID, "attempt", sess.attempt, "backoff", backoff)
			if err := p.sleep(ctx, backoff); err != nil {
				sess.state = StateCancelled
				return nil, ErrCancelled
			}
			sess.reset()
		}

		result, err := p.runAttempt(ctx, sess, requestID)
		if err == nil {
			sess.state = StateComplete
			return result, nil
		}
		if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
			sess.state = StateCancelled
			return nil, ErrCancelled
		}

		lastErr = err
		slog.Warn("format attempt failed", "request_id", requestID, "attempt", sess.attempt, "error", err)
	}

	sess.state = StateFailed
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

// runAttempt executes one pass of retrieval → prompt → stream → validate.
func (p *Processor) runAttempt(ctx context.Context, sess *session, requestID string) (*Result, error) {
	sess.state = StateRetrieving
	sess.setProgress(5)

	examples, status := p.selector.Select(ctx, sess.req.InputText, sess.req.EnabledExampleIDs)
	sess.setProgress(15)
	sess.status(status, len(examples))

	sess.state = StatePrompting
	promptText := p.builder.Build(sess.req.InputText, examples)
	sess.setProgress(20)

	sess.state = StateStreaming
	var output strings.Builder
	chunks := 0
	err := p.generator.StreamGenerate(ctx, provider.GenerationRequest{
		Prompt:  promptText,
		Model:   sess.req.Model,
		Options: sess.req.Options,
	}, func(chunk string) error {
		output.WriteString(chunk)
		chunks++
		// Advance linearly with chunk count, holding at 95 until the
		// stream closes.
		sess.setProgress(min(95, 20+chunks))
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("generation stream: %w", err)
	}

	sess.state = StateValidating
	text := strings.TrimSpace(output.String())
	if text == "" {
		return nil, ErrEmptyOutput
	}
	sess.setProgress(100)

	result := &Result{
		ID:           uuid.NewString(),
		RequestID:    requestID,
		Text:         text,
		HTML:         renderHTML(text),
		Model:        sess.req.Model,
		ExampleCount: len(examples),
		Attempts:     sess.attempt + 1,
		CreatedAt:    time.Now().UTC(),
	}

	if p.store != nil {
		err := p.store.SaveResult(storage.Result{
			ID:           result.ID,
			RequestID:    result.RequestID,
			InputText:    sess.req.InputText,
			OutputText:   result.Text,
			OutputHTML:   result.HTML,
			Model:        result.Model,
			ExampleCount: result.ExampleCount,
			Attempts:     result.Attempts,
			CreatedAt:    result.CreatedAt,
		})
		if err != nil {
			// History is best effort; the formatted text already exists.
			slog.Warn("saving result failed", "result_id", result.ID, "error", err)
		}
	}

	return result, nil
}

// renderHTML wraps each blank-line-separated paragraph in <p> tags, with
// single newlines inside a paragraph becoming <br>.
func renderHTML(text string) string {
	paragraphs := strings.Split(text, "\n\n")
	var sb strings.Builder
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(strings.ReplaceAll(escapeHTML(para), "\n", "<br>"))
		sb.WriteString("</p>")
	}
	return sb.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
