// Package navigation resolves place requests into directions. It searches,
// caches the candidates per thread, fuzzy matches the place the user picks
// and fetches a route to it.
package navigation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sweetpotato0/ai-concierge/cache"
	"github.com/sweetpotato0/ai-concierge/llm"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/pkg/metrics"
	"github.com/sweetpotato0/ai-concierge/places"
	"github.com/sweetpotato0/ai-concierge/prompt"
	"github.com/sweetpotato0/ai-concierge/session"
	"github.com/sweetpotato0/ai-concierge/tool"
)

// Name is the registry name of the tool.
const Name = "navigation"

// Actions a request may parse to. Directions are only fetched as part of
// confirming a place.
const (
	ActionSearch  = "search"
	ActionConfirm = "confirm_place"
)

// Defaults for Config.
const (
	DefaultTTL       = time.Hour
	DefaultThreshold = 50
)

// Request is the parsed form of a navigation utterance.
type Request struct {
	Action      string `json:"action"`
	Query       string `json:"query,omitempty"`
	PlaceName   string `json:"place_name,omitempty"`
	SearchQuery string `json:"search_query,omitempty"`
}

// PlaceSummary is what a search shows the user.
type PlaceSummary struct {
	Name             string `json:"name"`
	FormattedAddress string `json:"formattedAddress"`
}

// SearchData is the result of a search.
type SearchData struct {
	Places []PlaceSummary `json:"places"`
}

// DirectionsData is the result of a confirmed place. Route and Steps are
// only filled in debug mode.
type DirectionsData struct {
	Place    places.Candidate `json:"place"`
	Duration int              `json:"duration"`
	Distance int              `json:"distance"`
	Score    int              `json:"score"`
	Route    json.RawMessage  `json:"route,omitempty"`
	Steps    []string         `json:"steps,omitempty"`
}

type cachedDirections struct {
	Place places.Candidate `json:"place"`
	Route *places.Route    `json:"route"`
}

// Config tunes the tool.
type Config struct {
	// Origin is where directions start from.
	Origin places.Coordinates
	// TTL applies to both cached candidates and directions.
	TTL time.Duration
	// Threshold is the minimum token sort ratio for a confirmed place.
	Threshold int
	// Debug adds the raw route and step instructions to results.
	Debug bool
}

// Tool implements tool.Tool for navigation.
type Tool struct {
	llm     llm.Client
	places  places.Service
	cache   cache.Cache
	cfg     Config
	prompts *prompt.Manager
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Recorder
}

var _ tool.Tool = (*Tool)(nil)

// Option configures a Tool.
type Option func(*Tool)

// WithPrompts replaces the prompt templates.
func WithPrompts(m *prompt.Manager) Option {
	return func(t *Tool) {
		if m != nil {
			t.prompts = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics records execution durations.
func WithMetrics(r *metrics.Recorder) Option {
	return func(t *Tool) { t.metrics = r }
}

// New creates a navigation tool.
func New(client llm.Client, svc places.Service, c cache.Cache, cfg Config, opts ...Option) *Tool {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	t := &Tool{
		llm:     client,
		places:  svc,
		cache:   c,
		cfg:     cfg,
		prompts: prompt.Default(),
		logger:  logging.WithComponent("tool.navigation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// CandidatesKey is the cache key holding a thread's last search results.
func CandidatesKey(threadID string) string { return "nav:" + threadKey(threadID) + ":candidates" }

// DirectionsKey is the cache key holding a thread's last directions.
func DirectionsKey(threadID string) string { return "nav:" + threadKey(threadID) + ":directions" }

func threadKey(threadID string) string {
	if threadID == "" {
		return "_"
	}
	return threadID
}

// ParseQuery asks the model what the utterance wants.
func (t *Tool) ParseQuery(ctx context.Context, text string) (*Request, error) {
	rendered, err := t.prompts.Render(prompt.Navigation, map[string]any{"Query": text})
	if err != nil {
		return nil, err
	}
	raw, err := t.llm.Invoke(ctx, rendered)
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w", err)
	}
	var req Request
	if err := tool.ParseJSON(raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Execute handles one utterance. Every failure, including parse and
// service errors, comes back as an unsuccessful result; the returned error
// is always nil.
func (t *Tool) Execute(ctx context.Context, text string) (*tool.Result, error) {
	start := time.Now()
	res := t.execute(ctx, text)
	t.metrics.ToolDuration(Name, res.Success, time.Since(start))
	return res, nil
}

func (t *Tool) execute(ctx context.Context, text string) *tool.Result {
	req, err := t.ParseQuery(ctx, text)
	if err != nil {
		t.logger.Warn("navigation parse failed", "error", err)
		return tool.Failure(text, nil, err.Error())
	}

	threadID := session.ThreadID(ctx)
	var (
		data any
		msg  string
	)
	switch req.Action {
	case ActionSearch:
		data, err = t.search(ctx, threadID, req)
	case ActionConfirm:
		data, msg, err = t.confirm(ctx, threadID, req)
	default:
		msg = "unsupported action"
	}
	if err != nil {
		t.logger.Warn("navigation failed", "action", req.Action, "thread", threadID, "error", err)
		return tool.Failure(text, req, err.Error())
	}
	if msg != "" {
		return tool.Failure(text, req, msg)
	}
	return &tool.Result{Query: text, Success: true, Operation: req, Result: data}
}

func (t *Tool) search(ctx context.Context, threadID string, req *Request) (*SearchData, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("missing search query")
	}
	cands, err := t.searchAndCache(ctx, threadID, query)
	if err != nil {
		return nil, err
	}
	out := &SearchData{Places: make([]PlaceSummary, 0, len(cands))}
	for _, c := range cands {
		out.Places = append(out.Places, PlaceSummary{Name: c.Name, FormattedAddress: c.FormattedAddress})
	}
	return out, nil
}

// searchAndCache runs a search and overwrites the thread's candidate slot.
// Concurrent identical searches on one thread share a single call, which
// outlives the cancellation of whichever caller started it.
func (t *Tool) searchAndCache(ctx context.Context, threadID, query string) ([]places.Candidate, error) {
	shareCtx := context.WithoutCancel(ctx)
	v, err, shared := t.group.Do(threadKey(threadID)+"\x00"+query, func() (any, error) {
		cands, err := t.places.Search(shareCtx, query)
		if err != nil {
			return nil, err
		}
		if err := cache.SetJSON(shareCtx, t.cache, CandidatesKey(threadID), cands, t.cfg.TTL); err != nil {
			t.logger.Warn("cache candidates failed", "thread", threadID, "error", err)
		}
		return cands, nil
	})
	if err != nil {
		return nil, err
	}
	t.logger.Debug("place search", "thread", threadID, "query", query, "shared", shared)
	return v.([]places.Candidate), nil
}

func (t *Tool) candidates(ctx context.Context, threadID string, req *Request) ([]places.Candidate, error) {
	var cands []places.Candidate
	ok, err := cache.GetJSON(ctx, t.cache, CandidatesKey(threadID), &cands)
	if err != nil {
		t.logger.Warn("read cached candidates failed", "thread", threadID, "error", err)
	}
	if ok {
		return cands, nil
	}

	query := req.SearchQuery
	if query == "" {
		query = req.PlaceName
	}
	return t.searchAndCache(ctx, threadID, query)
}

func (t *Tool) confirm(ctx context.Context, threadID string, req *Request) (*DirectionsData, string, error) {
	if strings.TrimSpace(req.PlaceName) == "" {
		return nil, "missing place name", nil
	}
	cands, err := t.candidates(ctx, threadID, req)
	if err != nil {
		return nil, "", err
	}

	best, score, ok := bestMatch(req.PlaceName, cands)
	if !ok || score < t.cfg.Threshold {
		t.logger.Info("no place match", "thread", threadID, "place", req.PlaceName, "score", score)
		return nil, "no match", nil
	}

	route, err := t.directions(ctx, threadID, best)
	if err != nil {
		return nil, "", err
	}

	data := &DirectionsData{
		Place:    best,
		Duration: route.DurationSeconds,
		Distance: route.DistanceMeters,
		Score:    score,
	}
	if t.cfg.Debug {
		data.Route = route.Raw
		for _, s := range route.Steps {
			data.Steps = append(data.Steps, s.Instruction)
		}
	}
	return data, "", nil
}

// directions resolves a candidate to coordinates and routes to it from the
// configured origin. The payload is cached in the thread's directions slot.
func (t *Tool) directions(ctx context.Context, threadID string, place places.Candidate) (*places.Route, error) {
	loc, err := t.places.Detail(ctx, place.ID)
	if err != nil {
		return nil, err
	}
	route, err := t.places.Directions(ctx, t.cfg.Origin, *loc)
	if err != nil {
		return nil, err
	}
	payload := cachedDirections{Place: place, Route: route}
	if err := cache.SetJSON(ctx, t.cache, DirectionsKey(threadID), payload, t.cfg.TTL); err != nil {
		t.logger.Warn("cache directions failed", "thread", threadID, "error", err)
	}
	return route, nil
}
