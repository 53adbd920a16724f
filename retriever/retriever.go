// Package retriever ranks short texts (classifier exemplars, document field
// paths, knowledge passages) against a query.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/sweetpotato0/ai-concierge/vector"
)

// Retriever returns texts relevant to query, most relevant first.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Func adapts a function to Retriever.
type Func func(ctx context.Context, query string) ([]string, error)

// Retrieve calls f.
func (f Func) Retrieve(ctx context.Context, query string) ([]string, error) {
	return f(ctx, query)
}

// Config controls retrieval behaviour.
type Config struct {
	TopK     int
	MinScore float32
}

// Option customizes retriever config.
type Option func(*Config)

// WithTopK sets how many texts are returned.
func WithTopK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopK = k
		}
	}
}

// WithMinScore drops matches scoring below min.
func WithMinScore(min float32) Option {
	return func(cfg *Config) {
		cfg.MinScore = min
	}
}

func newConfig(opts []Option) Config {
	cfg := Config{TopK: 4}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Vector retrieves by embedding similarity.
type Vector struct {
	store    vector.Store
	embedder vector.Embedder
	cfg      Config
}

// NewVector creates a retriever over store using embedder for both indexing
// and queries.
func NewVector(store vector.Store, embedder vector.Embedder, opts ...Option) *Vector {
	return &Vector{store: store, embedder: embedder, cfg: newConfig(opts)}
}

// Index embeds and stores texts. IDs derive from the text, and texts the
// store already holds are not embedded again.
func (v *Vector) Index(ctx context.Context, texts ...string) error {
	if len(texts) == 0 {
		return nil
	}
	ids := make([]string, len(texts))
	for i, text := range texts {
		ids[i] = TextID(text)
	}
	have, err := v.store.Has(ctx, ids)
	if err != nil {
		return fmt.Errorf("check corpus: %w", err)
	}

	var pending, pendingIDs []string
	for i, text := range texts {
		if have[ids[i]] {
			continue
		}
		have[ids[i]] = true
		pending = append(pending, text)
		pendingIDs = append(pendingIDs, ids[i])
	}
	if len(pending) == 0 {
		return nil
	}

	vecs, err := v.embedder.EmbedBatch(ctx, pending)
	if err != nil {
		return fmt.Errorf("embed corpus: %w", err)
	}
	if len(vecs) != len(pending) {
		return fmt.Errorf("expected %d embeddings, got %d", len(pending), len(vecs))
	}
	for i, text := range pending {
		emb := &vector.Embedding{ID: pendingIDs[i], Text: text, Vector: vecs[i]}
		if err := v.store.Add(ctx, emb); err != nil {
			return fmt.Errorf("store %q: %w", text, err)
		}
	}
	return nil
}

// TextID is the stable embedding id of text.
func TextID(text string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(text)).String()
}

// Retrieve embeds query and returns the nearest stored texts.
func (v *Vector) Retrieve(ctx context.Context, query string) ([]string, error) {
	qv, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := v.store.Search(ctx, qv, v.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Score < v.cfg.MinScore {
			continue
		}
		out = append(out, m.Text)
	}
	return out, nil
}

// Keyword ranks texts by the number of query tokens they share. It needs no
// embedding service and is used for offline runs and tests.
type Keyword struct {
	mu     sync.RWMutex
	corpus []string
	cfg    Config
}

// NewKeyword creates a keyword retriever over corpus.
func NewKeyword(corpus []string, opts ...Option) *Keyword {
	return &Keyword{corpus: append([]string(nil), corpus...), cfg: newConfig(opts)}
}

// Add appends texts to the corpus.
func (k *Keyword) Add(texts ...string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.corpus = append(k.corpus, texts...)
}

// Retrieve returns texts sharing at least one token with query. Ties keep
// corpus order.
func (k *Keyword) Retrieve(ctx context.Context, query string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	want := make(map[string]struct{})
	for _, tok := range Tokenize(query) {
		want[tok] = struct{}{}
	}

	type scored struct {
		text  string
		score int
	}

	k.mu.RLock()
	hits := make([]scored, 0, len(k.corpus))
	for _, text := range k.corpus {
		score := 0
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(text) {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			if _, ok := want[tok]; ok {
				score++
			}
		}
		if score > 0 && float32(score) >= k.cfg.MinScore {
			hits = append(hits, scored{text: text, score: score})
		}
	}
	k.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k.cfg.TopK {
		hits = hits[:k.cfg.TopK]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.text
	}
	return out, nil
}

// Tokenize lowercases s and splits it on anything that is not a letter or
// digit. Dots and underscores split too, so field paths like
// "lights.living_room.brightness" match plain words.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
