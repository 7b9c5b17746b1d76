package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/provider"
)

type stubSelector struct {
	examples []corpus.ExampleRecord
	status   string
}

func (s stubSelector) Select(ctx context.Context, inputText string, enabledIDs []string) ([]corpus.ExampleRecord, string) {
	return s.examples, s.status
}

type stubBuilder struct{}

func (stubBuilder) Build(inputText string, examples []corpus.ExampleRecord) string {
	return "PROMPT: " + inputText
}

// scriptedGenerator fails for the first failCount calls, then streams chunks.
type scriptedGenerator struct {
	failCount int
	failErr   error
	chunks    []string
	calls     int
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) StreamGenerate(ctx context.Context, req provider.GenerationRequest, onChunk func(string) error) error {
	g.calls++
	if g.calls <= g.failCount {
		return g.failErr
	}
	for _, c := range g.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

// newTestProcessor wires a processor with instant sleeps, recording backoffs.
func newTestProcessor(sel Selector, gen provider.Generator, slept *[]time.Duration) *Processor {
	p := New(sel, stubBuilder{}, gen, nil)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		*slept = append(*slept, d)
		return nil
	}
	return p
}

func TestProcessSuccess(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"Hello", " world.\n\n", "Second paragraph."}}
	sel := stubSelector{
		examples: []corpus.ExampleRecord{{ID: "a"}, {ID: "b"}},
		status:   "using 2 example(s)",
	}

	var slept []time.Duration
	p := newTestProcessor(sel, gen, &slept)

	var progress []int
	var statusCount int
	result, err := p.Process(context.Background(), Request{
		InputText:  "some raw input",
		Model:      "mistral-nemo",
		OnProgress: func(pct int) { progress = append(progress, pct) },
		OnStatus:   func(msg string, count int) { statusCount = count },
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Text != "Hello world.\n\nSecond paragraph." {
		t.Errorf("Text = %q", result.Text)
	}
	if result.HTML != "<p>Hello world.</p><p>Second paragraph.</p>" {
		t.Errorf("HTML = %q", result.HTML)
	}
	if result.ExampleCount != 2 || statusCount != 2 {
		t.Errorf("example count = %d (status %d), want 2", result.ExampleCount, statusCount)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.ID == "" || result.RequestID == "" {
		t.Error("result missing identifiers")
	}
	if len(slept) != 0 {
		t.Errorf("slept %v on a clean run", slept)
	}

	// Progress must be non-decreasing and end at 100.
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("final progress = %v, want 100", progress)
	}
	if progress[0] != 5 {
		t.Errorf("first progress = %d, want 5", progress[0])
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	gen := &scriptedGenerator{
		failCount: 2,
		failErr:   errors.New("provider hiccup"),
		chunks:    []string{"recovered output"},
	}

	var slept []time.Duration
	p := newTestProcessor(stubSelector{}, gen, &slept)

	result, err := p.Process(context.Background(), Request{InputText: "in", Model: "m"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if gen.calls != 3 {
		t.Errorf("generator calls = %d, want 3", gen.calls)
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("backoffs = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestProcessRetriesExhausted(t *testing.T) {
	underlying := errors.New("provider down")
	gen := &scriptedGenerator{failCount: 99, failErr: underlying}

	var slept []time.Duration
	p := newTestProcessor(stubSelector{}, gen, &slept)

	_, err := p.Process(context.Background(), Request{InputText: "in", Model: "m"})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Process = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, underlying) {
		t.Errorf("final error does not wrap the underlying failure: %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("generator calls = %d, want exactly 3", gen.calls)
	}
}

func TestProcessEmptyOutputRetries(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"   \n\t  "}}

	var slept []time.Duration
	p := newTestProcessor(stubSelector{}, gen, &slept)

	_, err := p.Process(context.Background(), Request{InputText: "in", Model: "m"})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Process = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, ErrEmptyOutput) {
		t.Errorf("final error does not wrap ErrEmptyOutput: %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("generator calls = %d, want 3", gen.calls)
	}
}

// cancellingGenerator cancels the request context mid-stream.
type cancellingGenerator struct {
	cancel context.CancelFunc
	calls  int
}

func (g *cancellingGenerator) Name() string { return "cancelling" }

func (g *cancellingGenerator) StreamGenerate(ctx context.Context, req provider.GenerationRequest, onChunk func(string) error) error {
	g.calls++
	if err := onChunk("partial"); err != nil {
		return err
	}
	g.cancel()
	return ctx.Err()
}

func TestProcessCancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &cancellingGenerator{cancel: cancel}
	var slept []time.Duration
	p := newTestProcessor(stubSelector{}, gen, &slept)

	_, err := p.Process(ctx, Request{InputText: "in", Model: "m"})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Process = %v, want ErrCancelled", err)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1 (no retry after cancellation)", gen.calls)
	}
	if len(slept) != 0 {
		t.Errorf("slept %v after cancellation", slept)
	}
}

// blockingGenerator streams nothing until released.
type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *blockingGenerator) Name() string { return "blocking" }

func (g *blockingGenerator) StreamGenerate(ctx context.Context, req provider.GenerationRequest, onChunk func(string) error) error {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return onChunk("done")
}

func TestProcessRejectsConcurrentRequests(t *testing.T) {
	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	var slept []time.Duration
	p := newTestProcessor(stubSelector{}, gen, &slept)

	done := make(chan error, 1)
	go func() {
		_, err := p.Process(context.Background(), Request{InputText: "in", Model: "m"})
		done <- err
	}()

	<-gen.started
	_, err := p.Process(context.Background(), Request{InputText: "other", Model: "m"})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Process = %v, want ErrBusy", err)
	}

	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("first Process: %v", err)
	}

	// Processor is free again once the first request resolves.
	if _, err := p.Process(context.Background(), Request{InputText: "in", Model: "m"}); err != nil {
		t.Errorf("Process after completion: %v", err)
	}
}

func TestRenderHTMLEscapes(t *testing.T) {
	got := renderHTML("a < b & c\nnext line\n\nsecond")
	want := "<p>a &lt; b &amp; c<br>next line</p><p>second</p>"
	if got != want {
		t.Errorf("renderHTML = %q, want %q", got, want)
	}
}

func TestProgressCappedWhileStreaming(t *testing.T) {
	chunks := make([]string, 200)
	for i := range chunks {
		chunks[i] = "word "
	}
	gen := &scriptedGenerator{chunks: chunks}

	var slept []time.Duration
	p := newTestProcessor(stubSelector{}, gen, &slept)

	var progress []int
	_, err := p.Process(context.Background(), Request{
		InputText:  "in",
		Model:      "m",
		OnProgress: func(pct int) { progress = append(progress, pct) },
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	for _, pct := range progress[:len(progress)-1] {
		if pct > 95 {
			t.Fatalf("progress %d exceeded 95 before completion", pct)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Errorf("final progress = %d, want 100", progress[len(progress)-1])
	}
}
