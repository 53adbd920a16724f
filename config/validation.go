package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field %q: %s", e.Field, e.Message)
}

// Validator collects every problem in a configuration before reporting.
type Validator struct {
	prefix string
	errors *[]ValidationError
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{errors: &[]ValidationError{}}
}

// Section returns a validator that records fields under name.
func (v *Validator) Section(name string) *Validator {
	return &Validator{prefix: v.field(name), errors: v.errors}
}

func (v *Validator) field(name string) string {
	if v.prefix == "" {
		return name
	}
	return v.prefix + "." + name
}

func (v *Validator) add(field, msg string) *Validator {
	*v.errors = append(*v.errors, ValidationError{Field: v.field(field), Message: msg})
	return v
}

// RequireNonEmpty validates that a string field is not empty
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	if value == "" {
		return v.add(field, "value cannot be empty")
	}
	return v
}

// RequirePositive validates that an integer field is greater than 0
func (v *Validator) RequirePositive(field string, value int) *Validator {
	if value <= 0 {
		return v.add(field, fmt.Sprintf("value must be positive, got %d", value))
	}
	return v
}

// RequirePositiveDuration validates that a duration field is greater than 0
func (v *Validator) RequirePositiveDuration(field string, value time.Duration) *Validator {
	if value <= 0 {
		return v.add(field, fmt.Sprintf("duration must be positive, got %s", value))
	}
	return v
}

// ValidateRange validates that an integer field is within a range [min, max]
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		return v.add(field, fmt.Sprintf("value must be between %d and %d, got %d", min, max, value))
	}
	return v
}

// ValidateFloatRange validates that a float field is within a range [min, max]
func (v *Validator) ValidateFloatRange(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		return v.add(field, fmt.Sprintf("value must be between %.2f and %.2f, got %.2f", min, max, value))
	}
	return v
}

// ValidatePort validates that a port number is valid (1-65535)
func (v *Validator) ValidatePort(field string, port int) *Validator {
	return v.ValidateRange(field, port, 1, 65535)
}

// ValidateDBNumber validates that a database number is valid (0-15 for Redis)
func (v *Validator) ValidateDBNumber(field string, db int) *Validator {
	return v.ValidateRange(field, db, 0, 15)
}

// ValidateOneOf validates that a string value is one of the allowed options
func (v *Validator) ValidateOneOf(field string, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if a == value {
			return v
		}
	}
	return v.add(field, fmt.Sprintf("value must be one of %v, got %q", allowed, value))
}

// HasErrors returns true if there are any validation errors
func (v *Validator) HasErrors() bool {
	return len(*v.errors) > 0
}

// Error returns a combined error message or nil if no errors
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for _, e := range *v.errors {
		fmt.Fprintf(&b, "  - %s: %s\n", e.Field, e.Message)
	}
	return errors.New(b.String())
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return *v.errors
}

func (c LLMConfig) validate(v *Validator) {
	v.ValidateOneOf("provider", c.Provider, "openai", "groq", "claude", "gemini")
	v.RequireNonEmpty("model", c.Model)
	v.ValidateFloatRange("temperature", c.Temperature, 0.0, 2.0)
	v.RequirePositive("max_tokens", c.MaxTokens)
	v.ValidateRange("max_retries", c.MaxRetries, 0, 10)
}

func (c RedisConfig) validate(v *Validator) {
	v.RequireNonEmpty("addr", c.Addr)
	v.ValidateDBNumber("db", c.DB)
}

func (c PostgresConfig) validate(v *Validator) {
	v.RequireNonEmpty("host", c.Host)
	v.ValidatePort("port", c.Port)
	v.RequireNonEmpty("user", c.User)
	v.RequireNonEmpty("password", c.Password)
	v.RequireNonEmpty("dbname", c.DBName)
	v.ValidateOneOf("sslmode", c.SSLMode, "disable", "require", "verify-ca", "verify-full")
}

func (c MongoConfig) validate(v *Validator) {
	v.RequireNonEmpty("uri", c.URI)
	v.RequireNonEmpty("database", c.Database)
	v.RequireNonEmpty("collection", c.Collection)
}

func (c RetrievalConfig) validate(v *Validator) {
	v.ValidateOneOf("backend", c.Backend, BackendKeyword, BackendMemory, BackendPGVector)
	v.RequirePositive("top_k", c.TopK)
	if c.Backend == BackendPGVector {
		v.RequireNonEmpty("pgvector_dsn", c.PGVectorDSN)
		v.RequireNonEmpty("table", c.Table)
	}
}

func (c EmbedderConfig) validate(v *Validator) {
	v.ValidateOneOf("provider", c.Provider, "openai")
	v.ValidateRange("dimension", c.Dimension, 1, 65535)
}

func (c StateConfig) validate(v *Validator) {
	v.ValidateOneOf("backend", c.Backend, BackendMemory, BackendRedis, BackendPostgres)
	switch c.Backend {
	case BackendRedis:
		v.RequireNonEmpty("prefix", c.Prefix)
		v.RequirePositiveDuration("lock_ttl", c.LockTTL)
	case BackendPostgres:
		v.RequireNonEmpty("table", c.Table)
	}
}

func (c NavigationConfig) validate(v *Validator) {
	v.ValidateRange("threshold", c.Threshold, 0, 100)
	v.RequirePositiveDuration("ttl", c.TTL)
	v.ValidateFloatRange("origin_lat", c.OriginLat, -90, 90)
	v.ValidateFloatRange("origin_lng", c.OriginLng, -180, 180)
}

// Zero concurrent turns means unbounded.
func (c DispatchConfig) validate(v *Validator) {
	v.ValidateRange("max_concurrent_turns", c.MaxConcurrentTurns, 0, 65535)
	if c.LockTimeout < 0 {
		v.add("lock_timeout", fmt.Sprintf("duration cannot be negative, got %s", c.LockTimeout))
	}
}
