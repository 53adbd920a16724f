// Package config loads the concierge configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names shared by several sections.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendKeyword  = "keyword"
	BackendPGVector = "pgvector"
)

// DefaultSystemPrompt frames every model call.
const DefaultSystemPrompt = "You are the dispatch layer of a home and vehicle concierge. " +
	"Answer exactly in the format each request asks for, without commentary."

// Config is the full process configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	State      StateConfig      `yaml:"state"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Documents  DocumentsConfig  `yaml:"documents"`
	Cache      CacheConfig      `yaml:"cache"`
	Status     StatusConfig     `yaml:"status"`
	Navigation NavigationConfig `yaml:"navigation"`
	QA         QAConfig         `yaml:"qa"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMConfig selects the chat model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	System      string  `yaml:"system"`
	MaxRetries  int     `yaml:"max_retries"`
	// PromptsDir holds <name>.tmpl files that replace built-in prompts.
	PromptsDir  string  `yaml:"prompts_dir"`
}

// EmbedderConfig configures the embedding model. An empty provider disables
// vector retrieval.
type EmbedderConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// RetrievalConfig selects how exemplars, field paths and passages are
// retrieved.
type RetrievalConfig struct {
	Backend string `yaml:"backend"`
	TopK    int    `yaml:"top_k"`
	// PGVectorDSN and Table apply to the pgvector backend.
	PGVectorDSN string `yaml:"pgvector_dsn"`
	Table       string `yaml:"table"`
}

// StateConfig selects the thread snapshot store and lock.
type StateConfig struct {
	Backend string        `yaml:"backend"`
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`
	LockTTL time.Duration `yaml:"lock_ttl"`
	Table   string        `yaml:"table"`
}

// RedisConfig is the shared Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig is the shared Postgres connection.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// MongoConfig is the shared MongoDB connection.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// DocumentsConfig selects the device document store.
type DocumentsConfig struct {
	Backend      string `yaml:"backend"`
	ControlDocID string `yaml:"control_document"`
	MediaDocID   string `yaml:"media_document"`
	SeedFile     string `yaml:"seed_file"`
}

// CacheConfig selects the TTL cache.
type CacheConfig struct {
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix"`
}

// StatusConfig selects the status channel.
type StatusConfig struct {
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix"`
}

// NavigationConfig configures the places client and navigation tool.
type NavigationConfig struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Language  string        `yaml:"language"`
	Timeout   time.Duration `yaml:"timeout"`
	OriginLat float64       `yaml:"origin_lat"`
	OriginLng float64       `yaml:"origin_lng"`
	TTL       time.Duration `yaml:"ttl"`
	Threshold int           `yaml:"threshold"`
	Debug     bool          `yaml:"debug"`
}

// QAConfig configures the QA agent.
type QAConfig struct {
	Budget        int    `yaml:"budget"`
	History       int    `yaml:"history"`
	Encoding      string `yaml:"encoding"`
	KnowledgeFile string `yaml:"knowledge_file"`
}

// DispatchConfig configures the manager.
type DispatchConfig struct {
	MaxConcurrentTurns int           `yaml:"max_concurrent_turns"`
	LockTimeout        time.Duration `yaml:"lock_timeout"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration that runs fully in memory.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   512,
			System:      DefaultSystemPrompt,
			MaxRetries:  2,
		},
		Embedder:  EmbedderConfig{Model: "text-embedding-3-small", Dimension: 1536},
		Retrieval: RetrievalConfig{Backend: BackendKeyword, TopK: 4, Table: "passages"},
		State: StateConfig{
			Backend: BackendMemory,
			Prefix:  "concierge:thread:",
			LockTTL: 2 * time.Minute,
			Table:   "thread_states",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			DBName:  "concierge",
			SSLMode: "disable",
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "concierge",
			Collection: "devices",
		},
		Documents: DocumentsConfig{
			Backend:      BackendMemory,
			ControlDocID: "home",
			MediaDocID:   "media_player",
		},
		Cache:  CacheConfig{Backend: BackendMemory, Prefix: "concierge:cache:"},
		Status: StatusConfig{Backend: BackendMemory, Prefix: "concierge:status:"},
		Navigation: NavigationConfig{
			Timeout:   10 * time.Second,
			TTL:       time.Hour,
			Threshold: 50,
		},
		QA:       QAConfig{Budget: 1024, History: 4},
		Dispatch: DispatchConfig{},
		Telemetry: TelemetryConfig{
			ServiceName: "concierge",
			Environment: "development",
		},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CONCIERGE_* and the conventional provider
// variables.
func (c *Config) ApplyEnv() {
	c.Log.Level = getEnv("CONCIERGE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("CONCIERGE_LOG_FORMAT", c.Log.Format)

	c.LLM.Provider = getEnv("CONCIERGE_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("CONCIERGE_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnv("CONCIERGE_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.MaxTokens = getEnvInt("CONCIERGE_LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.PromptsDir = getEnv("CONCIERGE_PROMPTS_DIR", c.LLM.PromptsDir)
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = getEnv(providerKeyEnv(c.LLM.Provider), "")
	}
	c.LLM.APIKey = getEnv("CONCIERGE_LLM_API_KEY", c.LLM.APIKey)

	c.Embedder.Provider = getEnv("CONCIERGE_EMBEDDER_PROVIDER", c.Embedder.Provider)
	if c.Embedder.APIKey == "" {
		c.Embedder.APIKey = getEnv("OPENAI_API_KEY", "")
	}

	c.Retrieval.Backend = getEnv("CONCIERGE_RETRIEVAL_BACKEND", c.Retrieval.Backend)
	c.Retrieval.PGVectorDSN = getEnv("CONCIERGE_PGVECTOR_DSN", c.Retrieval.PGVectorDSN)

	c.State.Backend = getEnv("CONCIERGE_STATE_BACKEND", c.State.Backend)
	c.State.TTL = getEnvDuration("CONCIERGE_STATE_TTL", c.State.TTL)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Postgres.Host = getEnv("POSTGRES_HOST", c.Postgres.Host)
	c.Postgres.Port = getEnvInt("POSTGRES_PORT", c.Postgres.Port)
	c.Postgres.User = getEnv("POSTGRES_USER", c.Postgres.User)
	c.Postgres.Password = getEnv("POSTGRES_PASSWORD", c.Postgres.Password)
	c.Postgres.DBName = getEnv("POSTGRES_DB", c.Postgres.DBName)
	c.Postgres.SSLMode = getEnv("POSTGRES_SSLMODE", c.Postgres.SSLMode)

	c.Mongo.URI = getEnv("MONGODB_URI", c.Mongo.URI)
	c.Mongo.Database = getEnv("MONGODB_DB", c.Mongo.Database)
	c.Mongo.Collection = getEnv("MONGODB_COLLECTION", c.Mongo.Collection)

	c.Documents.Backend = getEnv("CONCIERGE_DOCUMENTS_BACKEND", c.Documents.Backend)
	c.Cache.Backend = getEnv("CONCIERGE_CACHE_BACKEND", c.Cache.Backend)
	c.Status.Backend = getEnv("CONCIERGE_STATUS_BACKEND", c.Status.Backend)

	c.Navigation.APIKey = getEnv("GOOGLE_MAPS_API_KEY", c.Navigation.APIKey)
	c.Navigation.TTL = getEnvDuration("CONCIERGE_NAV_TTL", c.Navigation.TTL)
	c.Navigation.Threshold = getEnvInt("CONCIERGE_NAV_THRESHOLD", c.Navigation.Threshold)

	c.Dispatch.MaxConcurrentTurns = getEnvInt("CONCIERGE_MAX_CONCURRENT_TURNS", c.Dispatch.MaxConcurrentTurns)
	c.Dispatch.LockTimeout = getEnvDuration("CONCIERGE_LOCK_TIMEOUT", c.Dispatch.LockTimeout)

	c.Telemetry.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
	c.Metrics.Addr = getEnv("CONCIERGE_METRICS_ADDR", c.Metrics.Addr)
}

// Validate checks every section the selected backends use and reports all
// problems at once.
func (c *Config) Validate() error {
	v := NewValidator()
	v.ValidateOneOf("log.level", c.Log.Level, "debug", "info", "warn", "error")
	v.ValidateOneOf("log.format", c.Log.Format, "json", "text")
	c.LLM.validate(v.Section("llm"))
	c.Retrieval.validate(v.Section("retrieval"))
	if c.Retrieval.Backend != BackendKeyword {
		c.Embedder.validate(v.Section("embedder"))
	}
	c.State.validate(v.Section("state"))
	v.ValidateOneOf("documents.backend", c.Documents.Backend, BackendMemory, BackendMongo)
	v.ValidateOneOf("cache.backend", c.Cache.Backend, BackendMemory, BackendRedis)
	v.ValidateOneOf("status.backend", c.Status.Backend, BackendMemory, BackendRedis)
	v.RequirePositive("qa.budget", c.QA.Budget)
	c.Navigation.validate(v.Section("navigation"))
	c.Dispatch.validate(v.Section("dispatch"))
	v.ValidateFloatRange("telemetry.sample_ratio", c.Telemetry.SampleRatio, 0, 1)

	if c.UsesRedis() {
		c.Redis.validate(v.Section("redis"))
	}
	if c.State.Backend == BackendPostgres {
		c.Postgres.validate(v.Section("postgres"))
	}
	if c.Documents.Backend == BackendMongo {
		c.Mongo.validate(v.Section("mongo"))
	}
	return v.Error()
}

// UsesRedis reports whether any section selected the Redis backend.
func (c *Config) UsesRedis() bool {
	return c.State.Backend == BackendRedis || c.Cache.Backend == BackendRedis || c.Status.Backend == BackendRedis
}

func providerKeyEnv(provider string) string {
	switch provider {
	case "claude":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	}
	return "OPENAI_API_KEY"
}

// Helper functions for environment variable reading

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
