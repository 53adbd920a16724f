// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Rule answers prompts containing Match with Reply (or Err).
type Rule struct {
	Match string
	Reply string
	Err   error
}

// Scripted returns canned replies selected by prompt substring. Rules are
// checked in order; the first match wins.
type Scripted struct {
	mu      sync.Mutex
	rules   []Rule
	prompts []string
	// Fallback is returned when no rule matches. An empty fallback makes an
	// unmatched prompt an error.
	Fallback string
}

// New creates a scripted client.
func New(rules ...Rule) *Scripted {
	return &Scripted{rules: rules}
}

// On appends a rule and returns the client for chaining.
func (s *Scripted) On(match, reply string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, Rule{Match: match, Reply: reply})
	return s
}

// Invoke implements llm.Client.
func (s *Scripted) Invoke(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	for _, r := range s.rules {
		if strings.Contains(prompt, r.Match) {
			return r.Reply, r.Err
		}
	}
	if s.Fallback != "" {
		return s.Fallback, nil
	}
	return "", fmt.Errorf("llmtest: no rule matches prompt %q", truncate(prompt, 80))
}

// Prompts returns every prompt received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Calls returns how many prompts contained substr.
func (s *Scripted) Calls(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
