package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/session"
)

// PostgresStore implements session.Store using PostgreSQL. Each thread is a
// single row holding its latest snapshot as JSONB.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Table    string
}

// DefaultPostgresConfig returns default PostgreSQL configuration
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "concierge",
		SSLMode:  "disable",
		Table:    "thread_states",
	}
}

// DSN renders the lib/pq connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NewPostgresStore connects, pings and ensures the snapshot table exists.
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return NewPostgresStoreFromDB(ctx, db, config.Table)
}

// NewPostgresStoreFromDB wraps an open database handle.
func NewPostgresStoreFromDB(ctx context.Context, db *sql.DB, table string) (*PostgresStore, error) {
	if table == "" {
		table = DefaultPostgresConfig().Table
	}
	store := &PostgresStore{db: db, table: table}
	if err := store.createTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		thread_id VARCHAR(255) PRIMARY KEY,
		state JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`, s.table)
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Save upserts the thread snapshot.
func (s *PostgresStore) Save(ctx context.Context, state *session.State) error {
	if state == nil || state.ThreadID == "" {
		return fmt.Errorf("state must have a thread id: %w", errorspkg.ErrInvalidInput)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal thread state: %w", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (thread_id, state, updated_at) VALUES ($1, $2, $3)
	ON CONFLICT (thread_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.db.ExecContext(ctx, query, state.ThreadID, raw, time.Now()); err != nil {
		return fmt.Errorf("failed to save thread state: %w", err)
	}
	return nil
}

// Load reads the thread snapshot.
func (s *PostgresStore) Load(ctx context.Context, threadID string) (*session.State, error) {
	query := fmt.Sprintf(`SELECT state FROM %s WHERE thread_id = $1`, s.table)

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("thread %s: %w", threadID, errorspkg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load thread state: %w", err)
	}

	var state session.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode thread state: %w", err)
	}
	if state.Data == nil {
		state.Data = make(map[string]any)
	}
	return &state, nil
}

// Delete removes the thread snapshot.
func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete thread state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("thread %s: %w", threadID, errorspkg.ErrNotFound)
	}
	return nil
}

// List returns all thread ids ordered by id.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT thread_id FROM %s ORDER BY thread_id`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
