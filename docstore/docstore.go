// Package docstore reads and writes individual fields of JSON-like device
// documents addressed by dotted field paths.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
)

// Ack acknowledges a field update. A missing document or field is reported
// with Success=false rather than an error.
type Ack struct {
	Success  bool   `json:"success"`
	Path     string `json:"field_path"`
	Value    any    `json:"value,omitempty"`
	Previous any    `json:"previous,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Store is a document store keyed by document id.
type Store interface {
	// GetField returns the value at path. Missing documents and fields wrap
	// errors.ErrNotFound.
	GetField(ctx context.Context, docID, path string) (any, error)
	// UpdateField replaces the value at an existing path.
	UpdateField(ctx context.Context, docID, path string, value any) (*Ack, error)
	// GetFields returns the values of the paths that exist. Missing paths are
	// omitted.
	GetFields(ctx context.Context, docID string, paths []string) (map[string]any, error)
}

// Lookup walks a dotted path through nested maps.
func Lookup(doc map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Assign sets the value at an existing dotted path and returns the value it
// replaced. It refuses to create new keys.
func Assign(doc map[string]any, path string, value any) (any, bool) {
	keys := strings.Split(path, ".")
	parentPath := strings.Join(keys[:len(keys)-1], ".")

	parent := doc
	if parentPath != "" {
		v, ok := Lookup(doc, parentPath)
		if !ok {
			return nil, false
		}
		if parent, ok = v.(map[string]any); !ok {
			return nil, false
		}
	}
	last := keys[len(keys)-1]
	prev, ok := parent[last]
	if !ok {
		return nil, false
	}
	parent[last] = value
	return prev, true
}

// Paths lists every leaf path in doc, sorted. It feeds field-path retrieval.
func Paths(doc map[string]any) []string {
	var out []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok && len(child) > 0 {
				walk(p, child)
				continue
			}
			out = append(out, p)
		}
	}
	walk("", doc)
	sort.Strings(out)
	return out
}

// MemoryStore keeps documents in process memory. Documents are copied on
// the way in and out.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]any)}
}

// Put stores a document, replacing any previous version.
func (s *MemoryStore) Put(docID string, doc map[string]any) error {
	cp, err := clone(doc)
	if err != nil {
		return fmt.Errorf("copy document %s: %w", docID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docID] = cp
	return nil
}

// Document returns a copy of a stored document.
func (s *MemoryStore) Document(docID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, errorspkg.ErrNotFound)
	}
	return clone(doc)
}

// GetField returns the value at path.
func (s *MemoryStore) GetField(ctx context.Context, docID, path string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, errorspkg.ErrNotFound)
	}
	v, ok := Lookup(doc, path)
	if !ok {
		return nil, fmt.Errorf("field %s: %w", path, errorspkg.ErrNotFound)
	}
	return cloneValue(v)
}

// UpdateField replaces the value at an existing path.
func (s *MemoryStore) UpdateField(ctx context.Context, docID, path string, value any) (*Ack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored, err := cloneValue(value)
	if err != nil {
		return nil, fmt.Errorf("copy value for %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[docID]
	if !ok {
		return &Ack{Path: path, Error: fmt.Sprintf("document %s not found", docID)}, nil
	}
	prev, ok := Assign(doc, path, stored)
	if !ok {
		return &Ack{Path: path, Error: fmt.Sprintf("field %s not found", path)}, nil
	}
	return &Ack{Success: true, Path: path, Value: value, Previous: prev}, nil
}

// GetFields returns the values of the paths that exist.
func (s *MemoryStore) GetFields(ctx context.Context, docID string, paths []string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, errorspkg.ErrNotFound)
	}
	out := make(map[string]any, len(paths))
	for _, p := range paths {
		v, ok := Lookup(doc, p)
		if !ok {
			continue
		}
		cp, err := cloneValue(v)
		if err != nil {
			return nil, fmt.Errorf("copy field %s: %w", p, err)
		}
		out[p] = cp
	}
	return out, nil
}

// clone deep-copies a document through JSON, which also normalizes numbers
// to float64 the way decoded documents look.
func clone(doc map[string]any) (map[string]any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cloneValue deep-copies a single field value the same way clone does.
func cloneValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
