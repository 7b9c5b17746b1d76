// Package prompt assembles the generation prompt from the raw input and the
// retrieved before/after examples.
package prompt

import (
	"fmt"
	"strings"

	"github.com/teleprompt/autocue/internal/corpus"
)

const defaultMaxExampleTokens = 4000

const instructionHeader = `You are an expert script editor. Rewrite the raw transcript below into a
polished, teleprompter-ready script. Keep the speaker's voice and meaning.
Remove filler words, false starts, and repetition. Output only the rewritten
script, nothing else.`

// Builder turns an input transcript and selected examples into a prompt string.
type Builder interface {
	Build(inputText string, examples []corpus.ExampleRecord) string
}

// ScriptBuilder is the default Builder. It prepends an instruction header,
// then one before/after block per example within a token budget, then the
// input. It performs no I/O.
type ScriptBuilder struct {
	MaxExampleTokens int
}

// New creates a ScriptBuilder with the given token budget for example blocks.
// If maxExampleTokens <= 0, the default (4000) is used.
func New(maxExampleTokens int) *ScriptBuilder {
	if maxExampleTokens <= 0 {
		maxExampleTokens = defaultMaxExampleTokens
	}
	return &ScriptBuilder{MaxExampleTokens: maxExampleTokens}
}

// Build assembles the prompt. Examples are included in the order given;
// blocks that would exceed the token budget are skipped, later smaller
// blocks may still fit.
func (b *ScriptBuilder) Build(inputText string, examples []corpus.ExampleRecord) string {
	var sb strings.Builder
	sb.WriteString(instructionHeader)

	remaining := b.MaxExampleTokens
	n := 0
	for _, ex := range examples {
		block := formatExample(n+1, ex)
		tokens := EstimateTokens(block)
		if tokens > remaining {
			continue
		}
		if n == 0 {
			sb.WriteString("\n\nHere are examples of the transformation:\n")
		}
		sb.WriteString(block)
		remaining -= tokens
		n++
	}

	sb.WriteString("\n\nRaw transcript:\n")
	sb.WriteString(inputText)
	sb.WriteString("\n\nRewritten script:")
	return sb.String()
}

func formatExample(n int, ex corpus.ExampleRecord) string {
	return fmt.Sprintf("\n[Example %d]\nBefore:\n%s\n\nAfter:\n%s\n", n, ex.BeforeText, ex.AfterText)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
