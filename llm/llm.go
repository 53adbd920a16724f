// Package llm defines the single-shot language model capability the
// dispatch core consumes.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/ai-concierge/pkg/logging"
)

// Client invokes a language model with a fully rendered prompt and returns
// its raw text completion.
type Client interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, prompt string) (string, error)

// Invoke calls f.
func (f ClientFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Logged wraps a client so every call is logged at debug level with its
// latency. Prompts are not logged; they may carry user data.
func Logged(name string, client Client, logger *slog.Logger) Client {
	if logger == nil {
		logger = logging.WithComponent("llm")
	}
	return ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		start := time.Now()
		out, err := client.Invoke(ctx, prompt)
		if err != nil {
			logger.Error("llm invoke failed", "provider", name, "latency", time.Since(start), "error", err)
			return "", fmt.Errorf("%s: %w", name, err)
		}
		logger.Debug("llm invoke", "provider", name, "latency", time.Since(start),
			"prompt_chars", len(prompt), "completion_chars", len(out))
		return out, nil
	})
}
