package provider

import (
	"context"
	"fmt"
	"log/slog"
)

// EnsureReady verifies that the local Ollama server is reachable and that the
// given models are present, pulling any that are missing. onStatus, when
// non-nil, receives human-readable progress lines.
func EnsureReady(ctx context.Context, ollama *Ollama, models []string, onStatus func(string)) error {
	status := func(msg string) {
		if onStatus != nil {
			onStatus(msg)
		}
	}

	if !ollama.IsRunning(ctx) {
		return fmt.Errorf("ollama is not running; start it and try again")
	}

	for _, model := range models {
		if model == "" || ollama.HasModel(ctx, model) {
			continue
		}

		status(fmt.Sprintf("pulling model %s...", model))
		slog.Info("pulling missing model", "model", model)

		var lastStatus string
		err := ollama.PullModel(ctx, model, func(p PullProgress) {
			if p.Status != lastStatus {
				lastStatus = p.Status
				status(fmt.Sprintf("  %s: %s", model, p.Status))
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}

		status(fmt.Sprintf("model %s ready", model))
	}

	return nil
}
