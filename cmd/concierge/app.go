package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/ai-concierge/agent"
	"github.com/sweetpotato0/ai-concierge/agent/media"
	"github.com/sweetpotato0/ai-concierge/agent/qa"
	"github.com/sweetpotato0/ai-concierge/cache"
	rediscache "github.com/sweetpotato0/ai-concierge/cache/redis"
	"github.com/sweetpotato0/ai-concierge/classifier"
	"github.com/sweetpotato0/ai-concierge/config"
	embedopenai "github.com/sweetpotato0/ai-concierge/contrib/embedder/openai"
	"github.com/sweetpotato0/ai-concierge/contrib/provider/claude"
	"github.com/sweetpotato0/ai-concierge/contrib/provider/gemini"
	"github.com/sweetpotato0/ai-concierge/contrib/provider/openai"
	"github.com/sweetpotato0/ai-concierge/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/ai-concierge/contrib/vector/inmemory"
	"github.com/sweetpotato0/ai-concierge/contrib/vector/pg"
	"github.com/sweetpotato0/ai-concierge/dispatch"
	"github.com/sweetpotato0/ai-concierge/docstore"
	"github.com/sweetpotato0/ai-concierge/docstore/mongo"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/llm"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/pkg/metrics"
	"github.com/sweetpotato0/ai-concierge/pkg/telemetry"
	"github.com/sweetpotato0/ai-concierge/places"
	"github.com/sweetpotato0/ai-concierge/prompt"
	"github.com/sweetpotato0/ai-concierge/retriever"
	"github.com/sweetpotato0/ai-concierge/session"
	sessionstore "github.com/sweetpotato0/ai-concierge/session/store"
	"github.com/sweetpotato0/ai-concierge/status"
	redisstatus "github.com/sweetpotato0/ai-concierge/status/redis"
	"github.com/sweetpotato0/ai-concierge/tool"
	"github.com/sweetpotato0/ai-concierge/tool/control"
	"github.com/sweetpotato0/ai-concierge/tool/navigation"
	"github.com/sweetpotato0/ai-concierge/vector"
)

const qaHistoryPrefix = "concierge:qa:"

// app holds everything a command needs, wired from configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Recorder
	status  status.Publisher
	tools   *tool.Registry
	manager *dispatch.Manager

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logging.SetLogger(logger)

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Disable:     !cfg.Telemetry.Enabled,
		Logger:      logger.With("component", "telemetry"),
	})
	if err != nil {
		return nil, err
	}
	a.onClose(shutdown)

	model, err := a.newLLM(ctx)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.onClose(func(context.Context) error { return rdb.Close() })
	}

	store, locker, err := a.newStateStore(ctx, rdb)
	if err != nil {
		return nil, err
	}
	docs, err := a.newDocStore(ctx)
	if err != nil {
		return nil, err
	}
	a.status = a.newStatus(rdb)

	var navCache cache.Cache = cache.NewMemory()
	if cfg.Cache.Backend == config.BackendRedis {
		navCache = rediscache.New(rdb, cfg.Cache.Prefix)
	}

	prompts := prompt.Default()
	if cfg.LLM.PromptsDir != "" {
		if err := prompts.LoadDir(cfg.LLM.PromptsDir); err != nil {
			return nil, err
		}
	}

	home, err := loadHome(cfg.Documents.SeedFile)
	if err != nil {
		return nil, err
	}
	exemplars, err := a.newRetriever(ctx, "exemplars", classifier.DefaultExemplars())
	if err != nil {
		return nil, err
	}
	fields, err := a.newRetriever(ctx, "field_paths", docstore.Paths(home))
	if err != nil {
		return nil, err
	}
	corpus, err := knowledge(cfg.QA.KnowledgeFile)
	if err != nil {
		return nil, err
	}
	passages, err := a.newRetriever(ctx, "passages", corpus)
	if err != nil {
		return nil, err
	}

	ctlTool := control.New(model, fields, docs,
		control.WithDocumentID(cfg.Documents.ControlDocID),
		control.WithPrompts(prompts),
		control.WithMetrics(a.metrics))
	placesCfg := places.DefaultConfig(cfg.Navigation.APIKey)
	if cfg.Navigation.BaseURL != "" {
		placesCfg.BaseURL = cfg.Navigation.BaseURL
	}
	placesCfg.Language = cfg.Navigation.Language
	placesCfg.Timeout = cfg.Navigation.Timeout
	navTool := navigation.New(model, places.New(placesCfg), navCache, navigation.Config{
		Origin:    places.Coordinates{Lat: cfg.Navigation.OriginLat, Lng: cfg.Navigation.OriginLng},
		TTL:       cfg.Navigation.TTL,
		Threshold: cfg.Navigation.Threshold,
		Debug:     cfg.Navigation.Debug,
	}, navigation.WithPrompts(prompts), navigation.WithMetrics(a.metrics))

	a.tools = tool.NewRegistry()
	for _, t := range []tool.Tool{ctlTool, navTool} {
		if err := a.tools.Register(t); err != nil {
			return nil, err
		}
	}

	qaOpts := []qa.Option{qa.WithBudget(cfg.QA.Budget), qa.WithHistoryLimit(cfg.QA.History), qa.WithPrompts(prompts)}
	if cfg.State.Backend == config.BackendRedis {
		qaOpts = append(qaOpts, qa.WithHistoryStore(sessionstore.NewRedisStoreFromClient(rdb, qaHistoryPrefix, cfg.State.TTL)))
	}
	if tok, err := tiktoken.New(cfg.QA.Encoding); err != nil {
		logger.Warn("tiktoken unavailable, budgeting passages by words", "error", err)
	} else {
		qaOpts = append(qaOpts, qa.WithTokenCounter(tok))
	}

	agents, err := agent.NewRegistry(
		qa.New(model, passages, qaOpts...),
		agent.NewToolAgent(agent.Control, ctlTool),
		agent.NewToolAgent(agent.Navigation, navTool),
		media.New(model, docs, media.WithDocumentID(cfg.Documents.MediaDocID), media.WithPrompts(prompts)),
	)
	if err != nil {
		return nil, err
	}
	categories := agent.DefaultCategories()
	cls, err := classifier.New(model, categories.Categories(), classifier.WithExemplars(exemplars), classifier.WithPrompts(prompts))
	if err != nil {
		return nil, err
	}

	a.manager, err = dispatch.New(cls, categories, agents, model,
		dispatch.WithStore(store),
		dispatch.WithLocker(locker),
		dispatch.WithStatus(a.status),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithPrompts(prompts),
		dispatch.WithMaxConcurrentTurns(cfg.Dispatch.MaxConcurrentTurns),
		dispatch.WithLockTimeout(cfg.Dispatch.LockTimeout),
	)
	if err != nil {
		return nil, err
	}

	if err := seed(ctx, docs, cfg, home); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) newLLM(ctx context.Context) (llm.Client, error) {
	c := a.cfg.LLM
	var client llm.Client
	switch c.Provider {
	case "openai", "groq":
		pc := openai.DefaultConfig().WithAPIKey(c.APIKey).WithModel(c.Model)
		pc.MaxTokens = int64(c.MaxTokens)
		pc.Temperature = c.Temperature
		pc.System = c.System
		pc.MaxRetries = c.MaxRetries
		switch {
		case c.BaseURL != "":
			pc.WithBaseURL(c.BaseURL)
		case c.Provider == "groq":
			pc.WithBaseURL(openai.GroqBaseURL)
		}
		client = openai.New(pc)
	case "claude":
		pc := claude.DefaultConfig(c.APIKey, c.BaseURL)
		pc.Model = c.Model
		pc.MaxTokens = int64(c.MaxTokens)
		pc.Temperature = c.Temperature
		pc.System = c.System
		pc.MaxRetries = c.MaxRetries
		client = claude.New(pc)
	case "gemini":
		pc := gemini.DefaultConfig(c.APIKey)
		pc.Model = c.Model
		pc.MaxTokens = int32(c.MaxTokens)
		pc.Temperature = float32(c.Temperature)
		pc.System = c.System
		pc.Endpoint = c.BaseURL
		p, err := gemini.New(ctx, pc)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return p.Close() })
		client = p
	default:
		return nil, fmt.Errorf("llm provider %q: %w", c.Provider, errorspkg.ErrInvalidInput)
	}
	return llm.Logged(c.Provider, client, a.logger.With("component", "llm")), nil
}

func (a *app) newStateStore(ctx context.Context, rdb *redis.Client) (session.Store, session.Locker, error) {
	c := a.cfg.State
	switch c.Backend {
	case config.BackendRedis:
		return sessionstore.NewRedisStoreFromClient(rdb, c.Prefix, c.TTL),
			sessionstore.NewRedisLocker(rdb, c.Prefix, c.LockTTL), nil
	case config.BackendPostgres:
		p := a.cfg.Postgres
		s, err := sessionstore.NewPostgresStore(ctx, &sessionstore.PostgresConfig{
			Host: p.Host, Port: p.Port, User: p.User, Password: p.Password,
			DBName: p.DBName, SSLMode: p.SSLMode, Table: c.Table,
		})
		if err != nil {
			return nil, nil, err
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, session.NewMutexLocker(), nil
	}
	return session.NewMemoryStore(), session.NewMutexLocker(), nil
}

// docStore is the document store plus the seeding the memory backend needs.
type docStore interface {
	docstore.Store
	Put(ctx context.Context, docID string, doc map[string]any) error
}

type memoryDocs struct{ *docstore.MemoryStore }

func (m memoryDocs) Put(_ context.Context, docID string, doc map[string]any) error {
	return m.MemoryStore.Put(docID, doc)
}

func (a *app) newDocStore(ctx context.Context) (docStore, error) {
	if a.cfg.Documents.Backend != config.BackendMongo {
		return memoryDocs{docstore.NewMemoryStore()}, nil
	}
	m := a.cfg.Mongo
	s, err := mongo.New(ctx, &mongo.Config{URI: m.URI, Database: m.Database, Collection: m.Collection})
	if err != nil {
		return nil, err
	}
	a.onClose(s.Close)
	return s, nil
}

func (a *app) newStatus(rdb *redis.Client) status.Publisher {
	if a.cfg.Status.Backend == config.BackendRedis {
		return redisstatus.New(rdb, a.cfg.Status.Prefix)
	}
	b := status.NewBroadcaster(a.logger)
	a.onClose(func(context.Context) error { b.Close(); return nil })
	return b
}

// newRetriever indexes corpus with the configured backend.
func (a *app) newRetriever(ctx context.Context, name string, corpus []string) (retriever.Retriever, error) {
	c := a.cfg.Retrieval
	if c.Backend == config.BackendKeyword {
		return retriever.NewKeyword(corpus, retriever.WithTopK(c.TopK)), nil
	}

	e := a.cfg.Embedder
	embedder := embedopenai.New(e.APIKey, e.BaseURL, openaisdk.EmbeddingModel(e.Model), e.Dimension)
	var store vector.Store = inmemory.New()
	if c.Backend == config.BackendPGVector {
		s, err := pg.New(ctx, &pg.Config{DSN: c.PGVectorDSN, Dimension: e.Dimension, TableName: c.Table + "_" + name})
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return s.Close() })
		store = s
	}
	r := retriever.NewVector(store, embedder, retriever.WithTopK(c.TopK))
	if err := r.Index(ctx, corpus...); err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}
	return r, nil
}

// seed writes the default documents unless they already exist.
func seed(ctx context.Context, docs docStore, cfg *config.Config, home map[string]any) error {
	for id, doc := range map[string]map[string]any{
		cfg.Documents.ControlDocID: home,
		cfg.Documents.MediaDocID:   media.DefaultDocument(),
	} {
		_, err := docs.GetFields(ctx, id, []string{"_"})
		if err == nil {
			continue
		}
		if !errors.Is(err, errorspkg.ErrNotFound) {
			return err
		}
		if err := docs.Put(ctx, id, doc); err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
	}
	return nil
}
