package kvdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig configures a PostgresAdapter's connection pool: the
// same pool knobs a database/sql-backed client typically exposes.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// PostgresAdapter persists the flat variant's (path, length) -> hash
// entries in a Postgres table, ordered the same way the in-memory and
// CometBFT adapters order them: by path bytes, then length.
type PostgresAdapter struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresAdapter opens a connection pool against cfg.DSN and ensures
// the backing table exists.
func NewPostgresAdapter(cfg PostgresConfig, logger *log.Logger) (*PostgresAdapter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("kvdb: postgres DSN cannot be empty")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[kvdb/postgres] ", log.LstdFlags)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("kvdb: open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvdb: ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvdb: create table: %w", err)
	}

	logger.Printf("connected to postgres ordered-kv store (max_open=%d, max_idle=%d)",
		cfg.MaxOpenConns, cfg.MaxIdleConns)
	return &PostgresAdapter{db: db, logger: logger}, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS bintree_nodes (
	node_key BYTEA PRIMARY KEY,
	node_hash BYTEA NOT NULL
)`

// Close releases the underlying connection pool.
func (a *PostgresAdapter) Close() error {
	return a.db.Close()
}

func (a *PostgresAdapter) Get(key []byte) ([]byte, bool, error) {
	var v []byte
	err := a.db.QueryRow(`SELECT node_hash FROM bintree_nodes WHERE node_key = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvdb: get: %w", err)
	}
	return v, true, nil
}

func (a *PostgresAdapter) Put(key, value []byte) error {
	_, err := a.db.Exec(`
		INSERT INTO bintree_nodes (node_key, node_hash) VALUES ($1, $2)
		ON CONFLICT (node_key) DO UPDATE SET node_hash = EXCLUDED.node_hash`, key, value)
	if err != nil {
		return fmt.Errorf("kvdb: put: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) Delete(key []byte) error {
	if _, err := a.db.Exec(`DELETE FROM bintree_nodes WHERE node_key = $1`, key); err != nil {
		return fmt.Errorf("kvdb: delete: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) Seek(key []byte) ([]byte, []byte, bool, error) {
	var k, v []byte
	err := a.db.QueryRow(`
		SELECT node_key, node_hash FROM bintree_nodes
		WHERE node_key >= $1 ORDER BY node_key ASC LIMIT 1`, key).Scan(&k, &v)
	if err == sql.ErrNoRows {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("kvdb: seek: %w", err)
	}
	return k, v, true, nil
}

func (a *PostgresAdapter) SeekPrev(key []byte) ([]byte, []byte, bool, error) {
	var k, v []byte
	err := a.db.QueryRow(`
		SELECT node_key, node_hash FROM bintree_nodes
		WHERE node_key <= $1 ORDER BY node_key DESC LIMIT 1`, key).Scan(&k, &v)
	if err == sql.ErrNoRows {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("kvdb: seek_prev: %w", err)
	}
	return k, v, true, nil
}

// NewBatch starts a SQL transaction and returns it wrapped as a Batch.
func (a *PostgresAdapter) NewBatch() (Batch, error) {
	tx, err := a.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("kvdb: begin: %w", err)
	}
	return &pgBatch{tx: tx}, nil
}

type pgBatch struct {
	tx      *sql.Tx
	puts    [][2][]byte
	deletes [][]byte
}

func (b *pgBatch) Put(key, value []byte) {
	b.puts = append(b.puts, [2][]byte{key, value})
}

func (b *pgBatch) Delete(key []byte) {
	b.deletes = append(b.deletes, key)
}

func (b *pgBatch) Commit() error {
	for _, kv := range b.puts {
		if _, err := b.tx.Exec(`
			INSERT INTO bintree_nodes (node_key, node_hash) VALUES ($1, $2)
			ON CONFLICT (node_key) DO UPDATE SET node_hash = EXCLUDED.node_hash`, kv[0], kv[1]); err != nil {
			b.tx.Rollback()
			return fmt.Errorf("kvdb: batch put: %w", err)
		}
	}
	for _, k := range b.deletes {
		if _, err := b.tx.Exec(`DELETE FROM bintree_nodes WHERE node_key = $1`, k); err != nil {
			b.tx.Rollback()
			return fmt.Errorf("kvdb: batch delete: %w", err)
		}
	}
	return b.tx.Commit()
}
