// Package pgstore implements store.Store on PostgreSQL through the pgx
// database/sql driver, so several machines can share one results database.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sweepgrid_batches (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	date_started TIMESTAMPTZ NOT NULL,
	doc          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS sweepgrid_batches_name_idx ON sweepgrid_batches (name);
CREATE TABLE IF NOT EXISTS sweepgrid_experiments (
	id       TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	doc      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS sweepgrid_experiments_batch_idx ON sweepgrid_experiments (batch_id);
`

type Config struct {
	DSN          string
	PingTimeout  time.Duration
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConfig returns the pool settings used by the CLI.
func DefaultConfig(dsn string) Config {
	return Config{DSN: dsn, PingTimeout: 5 * time.Second, MaxOpenConns: 10, MaxIdleConns: 5}
}

func (c Config) Validate() error {
	if c.DSN == "" {
		return errors.New("postgres DSN is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("ping timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("max open connections must be >= 1")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max idle connections must be between 0 and max open connections")
	}
	return nil
}

// Store is a PostgreSQL implementation of store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects, pings and creates the schema if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveBatch(ctx context.Context, b *model.Batch) error {
	if b.ID == "" {
		b.ID = store.NewID()
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweepgrid_batches (id, name, date_started, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, date_started = EXCLUDED.date_started, doc = EXCLUDED.doc`,
		b.ID, b.Name, b.DateStarted, doc)
	if err != nil {
		return fmt.Errorf("failed to save batch %q: %w", b.Name, err)
	}
	return nil
}

func (s *Store) Batches(ctx context.Context, f store.BatchFilter) ([]*model.Batch, error) {
	match, err := f.Compile()
	if err != nil {
		return nil, err
	}

	query := `SELECT doc FROM sweepgrid_batches WHERE ($1 = '' OR id = $1) AND ($2 = '' OR name = $2)`
	rows, err := s.db.QueryContext(ctx, query, f.ID, f.Name)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []*model.Batch
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var b model.Batch
		if err := json.Unmarshal(doc, &b); err != nil {
			return nil, fmt.Errorf("corrupt batch record: %w", err)
		}
		if match(&b) {
			out = append(out, &b)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return store.SortBatches(out, f.Limit), nil
}

func (s *Store) RemoveBatches(ctx context.Context, f store.BatchFilter) (int, error) {
	found, err := s.Batches(ctx, store.BatchFilter{ID: f.ID, Name: f.Name, NamePattern: f.NamePattern})
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(found))
	for _, b := range found {
		ids = append(ids, b.ID)
	}
	return len(ids), s.deleteIDs(ctx, "sweepgrid_batches", ids)
}

func (s *Store) SaveExperiment(ctx context.Context, e *model.Experiment) error {
	if e.ID == "" {
		e.ID = store.NewID()
	}
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweepgrid_experiments (id, batch_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET batch_id = EXCLUDED.batch_id, doc = EXCLUDED.doc`,
		e.ID, e.BatchID, doc)
	if err != nil {
		return fmt.Errorf("failed to save experiment: %w", err)
	}
	return nil
}

func (s *Store) Experiments(ctx context.Context, f store.ExperimentFilter) ([]*model.Experiment, error) {
	query := `SELECT doc FROM sweepgrid_experiments
		WHERE ($1 = '' OR batch_id = $1) AND ($2 = '' OR batch_id <> $2) AND ($3 = '' OR doc->>'executable' = $3)`
	rows, err := s.db.QueryContext(ctx, query, f.BatchID, f.ExcludeBatchID, f.Executable)
	if err != nil {
		return nil, fmt.Errorf("query experiments: %w", err)
	}
	defer rows.Close()

	var out []*model.Experiment
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var e model.Experiment
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("corrupt experiment record: %w", err)
		}
		if f.Match(&e) {
			out = append(out, &e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return store.SortExperiments(out), nil
}

func (s *Store) RemoveExperiments(ctx context.Context, f store.ExperimentFilter) (int, error) {
	found, err := s.Experiments(ctx, f)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(found))
	for _, e := range found {
		ids = append(ids, e.ID)
	}
	return len(ids), s.deleteIDs(ctx, "sweepgrid_experiments", ids)
}

func (s *Store) deleteIDs(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ANY($1)", ids); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
