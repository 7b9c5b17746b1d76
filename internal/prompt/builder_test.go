package prompt

import (
	"strings"
	"testing"

	"github.com/teleprompt/autocue/internal/corpus"
)

func example(before, after string) corpus.ExampleRecord {
	return corpus.ExampleRecord{BeforeText: before, AfterText: after}
}

func TestBuildNoExamples(t *testing.T) {
	b := New(0)
	out := b.Build("raw input text", nil)

	if !strings.Contains(out, "raw input text") {
		t.Error("input text missing from prompt")
	}
	if strings.Contains(out, "[Example") {
		t.Error("example block present with no examples")
	}
	if !strings.HasSuffix(out, "Rewritten script:") {
		t.Error("prompt does not end with the completion cue")
	}
}

func TestBuildNumbersExamples(t *testing.T) {
	b := New(0)
	out := b.Build("input", []corpus.ExampleRecord{
		example("um so first", "First,"),
		example("uh second thing", "Second,"),
	})

	if !strings.Contains(out, "[Example 1]") || !strings.Contains(out, "[Example 2]") {
		t.Errorf("example numbering missing:\n%s", out)
	}
	if !strings.Contains(out, "um so first") || !strings.Contains(out, "Second,") {
		t.Error("example content missing")
	}

	// Header comes before examples, examples before input.
	if strings.Index(out, "[Example 1]") > strings.Index(out, "input") {
		t.Error("examples should precede the input")
	}
}

func TestBuildRespectsTokenBudget(t *testing.T) {
	// Budget fits the header line plus one small block only.
	b := New(60)
	big := strings.Repeat("x", 2000)
	out := b.Build("input", []corpus.ExampleRecord{
		example(big, big),
		example("small before", "small after"),
	})

	if strings.Contains(out, big) {
		t.Error("oversized example not dropped")
	}
	if !strings.Contains(out, "small before") {
		t.Error("small example should still fit after an oversized one is skipped")
	}
	// Numbering reflects included examples, not input position.
	if !strings.Contains(out, "[Example 1]") || strings.Contains(out, "[Example 2]") {
		t.Errorf("included example should be numbered by inclusion order:\n%s", out)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Errorf("EstimateTokens(4 chars) = %d, want 1", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Errorf("EstimateTokens(5 chars) = %d, want 2", got)
	}
}
