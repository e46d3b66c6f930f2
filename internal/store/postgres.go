package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS write_ahead (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	reason     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE write_ahead ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
CREATE INDEX IF NOT EXISTS write_ahead_seq_idx ON write_ahead (seq);`

// PostgresBackend stores keys in a kv_entries table. A batch is applied in
// one transaction together with its write_ahead row.
type PostgresBackend struct {
	db     *sqlx.DB
	retain int
}

// NewPostgresBackend connects to databaseURL and creates the tables if needed
func NewPostgresBackend(databaseURL string) (*PostgresBackend, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresBackend{db: db, retain: JournalRetention}, nil
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) Authoritative() bool { return false }

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := p.db.GetContext(ctx, &value, "SELECT value FROM kv_entries WHERE key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (p *PostgresBackend) Commit(ctx context.Context, batch *Batch) error {
	entry, err := batch.Encode()
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO write_ahead (id, reason, payload, created_at) VALUES ($1, $2, $3, $4)",
		batch.ID, batch.Reason, string(entry), batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record write-ahead entry: %w", err)
	}

	for _, put := range batch.Puts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, NOW())
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			put.Key, string(put.Value))
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", put.Key, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM write_ahead WHERE seq <= (SELECT MAX(seq) FROM write_ahead) - $1",
		p.retain)
	if err != nil {
		return fmt.Errorf("failed to trim write-ahead log: %w", err)
	}

	return tx.Commit()
}

// Journal returns up to limit write-ahead entries, newest first
func (p *PostgresBackend) Journal(ctx context.Context, limit int) ([]*Batch, error) {
	var payloads []string
	err := p.db.SelectContext(ctx, &payloads,
		"SELECT payload FROM write_ahead ORDER BY seq DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}

	batches := make([]*Batch, 0, len(payloads))
	for _, payload := range payloads {
		b, err := DecodeBatch([]byte(payload))
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// Close closes the database connection
func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
