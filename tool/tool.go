package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is the uniform envelope returned by tools. Success=false is a
// handled domain failure and is never paired with a Go error.
type Result struct {
	Query     string `json:"query"`
	Success   bool   `json:"success"`
	Operation any    `json:"operation,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Failure builds an unsuccessful envelope.
func Failure(query string, operation any, msg string) *Result {
	return &Result{Query: query, Success: false, Operation: operation, Error: msg}
}

// Tool turns one natural-language request into a domain operation.
type Tool interface {
	Name() string
	Execute(ctx context.Context, query string) (*Result, error)
}

// Registry manages a collection of tools
// All operations are thread-safe using RWMutex protection
type Registry struct {
	mu    sync.RWMutex // Protects tools map
	tools map[string]Tool
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return t, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool by name
func (r *Registry) Execute(ctx context.Context, name, query string) (*Result, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Execute(ctx, query)
}
