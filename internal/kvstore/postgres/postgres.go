// Package postgres implements kv.Store on top of PostgreSQL, adapting
// the teacher's pgxpool-based block/transaction store to a single
// generic namespaced key-value table so the wallet core's abstract KV
// contract has a concrete, production-shaped backing store.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/internal/kv"
)

// Schema is the DDL a deployment must apply before using Store. Keys
// are stored as their colon-joined string form so a simple text range
// scan (key >= prefix AND key < prefix followed by U+10FFFF, see
// rangeBounds) implements namespace
// iteration.
const Schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key   TEXT PRIMARY KEY,
	value BYTEA NOT NULL
);
`

// Config holds database configuration, mirroring the teacher's
// storage.Config/DefaultConfig shape.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DefaultConfig returns sane local-development defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "shield",
		Password: "",
		Database: "shield",
		SSLMode:  "disable",
		MaxConns: 20,
	}
}

// Store implements kv.Store on a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL per cfg and verifies the connection.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("kvstore/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("kvstore/postgres: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Get(ctx context.Context, key kv.Key) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key.String()).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore/postgres: get: %w", err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key kv.Key, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key.String(), value)
	if err != nil {
		return fmt.Errorf("kvstore/postgres: put: %w", err)
	}
	return nil
}

func (s *Store) GetEncrypted(ctx context.Context, key kv.Key, encKey []byte) ([]byte, error) {
	ct, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return crypto.DecryptChunk(encKey, ct)
}

func (s *Store) PutEncrypted(ctx context.Context, key kv.Key, encKey []byte, value []byte) error {
	ct, err := crypto.EncryptChunk(encKey, value)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, ct)
}

// Batch writes every op inside a single transaction, matching the
// teacher's UpdateMainChain begin/exec/commit pattern.
func (s *Store) Batch(ctx context.Context, ops []kv.Op) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("kvstore/postgres: begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, op := range ops {
		batch.Queue(`
			INSERT INTO kv_entries (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		`, op.Key.String(), op.Value)
	}

	br := tx.SendBatch(ctx, batch)
	for range ops {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("kvstore/postgres: batch exec: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("kvstore/postgres: batch close: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) CountNamespace(ctx context.Context, prefix kv.Key) (int, error) {
	lo, hi := rangeBounds(prefix)
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM kv_entries WHERE key >= $1 AND key < $2
	`, lo, hi).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("kvstore/postgres: count namespace: %w", err)
	}
	return count, nil
}

func (s *Store) StreamNamespace(ctx context.Context, prefix kv.Key) (<-chan kv.Key, <-chan error) {
	keys := make(chan kv.Key)
	errs := make(chan error, 1)

	go func() {
		defer close(keys)
		defer close(errs)

		lo, hi := rangeBounds(prefix)
		rows, err := s.pool.Query(ctx, `
			SELECT key FROM kv_entries WHERE key >= $1 AND key < $2 ORDER BY key
		`, lo, hi)
		if err != nil {
			errs <- fmt.Errorf("kvstore/postgres: stream namespace: %w", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				errs <- err
				return
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case keys <- splitKey(k):
			}
		}
		if err := rows.Err(); err != nil {
			errs <- err
		}
	}()

	return keys, errs
}

// rangeBounds turns a namespace prefix into the [lo, hi) text range
// that selects every key sharing that colon-joined prefix.
func rangeBounds(prefix kv.Key) (lo, hi string) {
	lo = prefix.String()
	if lo == "" {
		return "", string(rune(0x10FFFF))
	}
	return lo, lo + string(rune(0x10FFFF))
}

func splitKey(k string) kv.Key {
	var parts []string
	start := 0
	for i := 0; i < len(k); i++ {
		if k[i] == ':' {
			parts = append(parts, k[start:i])
			start = i + 1
		}
	}
	parts = append(parts, k[start:])
	return parts
}
