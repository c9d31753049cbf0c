// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/warden-bot/warden/lib/clock"
)

const postgresOperationTimeout = 5 * time.Second

// Postgres is a Store backend on a PostgreSQL server via lib/pq.
type Postgres struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger

	tableMu     sync.Mutex
	knownTables map[string]bool
}

// OpenPostgres connects to cfg.DSN and verifies the connection.
func OpenPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("store: postgres DSN is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Table: "postgres", Err: err}
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
	}

	pingContext, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	if err := db.PingContext(pingContext); err != nil {
		_ = db.Close()
		return nil, &Error{Op: "open", Table: "postgres", Err: err}
	}

	cfg.Logger.Info("postgres store opened")
	return &Postgres{
		db:          db,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		knownTables: make(map[string]bool),
	}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (p *Postgres) ensureTable(ctx context.Context, table string) error {
	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	if p.knownTables[table] {
		return nil
	}

	quoted := postgresQuoteIdentifier(table)
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			key TEXT NOT NULL,
			value BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (key, created_at)`,
			postgresQuoteIdentifier(table+"_key"), quoted),
	}
	for _, statement := range statements {
		if _, err := p.db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	p.knownTables[table] = true
	return nil
}

// prepare validates table, applies the operation timeout and creates
// the table on first use.
func (p *Postgres) prepare(ctx context.Context, op, table string) (context.Context, context.CancelFunc, error) {
	if err := checkTable(table); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	if err := p.ensureTable(ctx, table); err != nil {
		cancel()
		return nil, nil, &Error{Op: op, Table: table, Err: err}
	}
	return ctx, cancel, nil
}

func (p *Postgres) Append(ctx context.Context, table, key string, value []byte) (int64, error) {
	ctx, cancel, err := p.prepare(ctx, "append", table)
	if err != nil {
		return 0, err
	}
	defer cancel()

	id, err := p.insert(ctx, p.db, table, key, value)
	if err != nil {
		return 0, &Error{Op: "append", Table: table, Err: err}
	}
	return id, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) insert(ctx context.Context, db queryRower, table, key string, value []byte) (int64, error) {
	if value == nil {
		value = []byte{}
	}
	var id int64
	err := db.QueryRowContext(ctx,
		fmt.Sprintf("INSERT INTO %s (key, value, created_at) VALUES ($1, $2, $3) RETURNING id", postgresQuoteIdentifier(table)),
		key, value, p.clock.Now().UTC()).Scan(&id)
	return id, err
}

func (p *Postgres) Set(ctx context.Context, table, key string, value []byte) (int64, error) {
	ctx, cancel, err := p.prepare(ctx, "set", table)
	if err != nil {
		return 0, err
	}
	defer cancel()

	transaction, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &Error{Op: "set", Table: table, Err: err}
	}
	defer transaction.Rollback()

	if _, err := transaction.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE key = $1", postgresQuoteIdentifier(table)), key); err != nil {
		return 0, &Error{Op: "set", Table: table, Err: err}
	}
	id, err := p.insert(ctx, transaction, table, key, value)
	if err != nil {
		return 0, &Error{Op: "set", Table: table, Err: err}
	}
	if err := transaction.Commit(); err != nil {
		return 0, &Error{Op: "set", Table: table, Err: err}
	}
	return id, nil
}

func (p *Postgres) query(ctx context.Context, op, table, query string, args ...any) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &Error{Op: op, Table: table, Err: err}
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.ID, &record.Key, &record.Value, &record.CreatedAt); err != nil {
			return nil, &Error{Op: op, Table: table, Err: err}
		}
		record.CreatedAt = record.CreatedAt.UTC()
		if record.Value == nil {
			record.Value = []byte{}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: op, Table: table, Err: err}
	}
	return records, nil
}

func (p *Postgres) Get(ctx context.Context, table, key string) (Record, error) {
	records, err := p.GetLast(ctx, table, key, 1)
	if err != nil {
		return Record{}, err
	}
	return records[0], nil
}

func (p *Postgres) GetAll(ctx context.Context, table, key string) ([]Record, error) {
	ctx, cancel, err := p.prepare(ctx, "get_all", table)
	if err != nil {
		return nil, err
	}
	defer cancel()

	records, err := p.query(ctx, "get_all", table, fmt.Sprintf(
		"SELECT id, key, value, created_at FROM %s WHERE key = $1 ORDER BY created_at, id",
		postgresQuoteIdentifier(table)), key)
	if err == nil && len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, err
}

func (p *Postgres) GetLast(ctx context.Context, table, key string, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel, err := p.prepare(ctx, "get_last", table)
	if err != nil {
		return nil, err
	}
	defer cancel()

	records, err := p.query(ctx, "get_last", table, fmt.Sprintf(
		"SELECT id, key, value, created_at FROM %s WHERE key = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		postgresQuoteIdentifier(table)), key, n)
	if err == nil && len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, err
}

func (p *Postgres) Keys(ctx context.Context, table string) ([]string, error) {
	ctx, cancel, err := p.prepare(ctx, "keys", table)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT key FROM %s ORDER BY key", postgresQuoteIdentifier(table)))
	if err != nil {
		return nil, &Error{Op: "keys", Table: table, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &Error{Op: "keys", Table: table, Err: err}
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "keys", Table: table, Err: err}
	}
	return keys, nil
}

func (p *Postgres) Scan(ctx context.Context, table string) ([]Record, error) {
	ctx, cancel, err := p.prepare(ctx, "scan", table)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.query(ctx, "scan", table, fmt.Sprintf(
		"SELECT id, key, value, created_at FROM %s ORDER BY id", postgresQuoteIdentifier(table)))
}

func (p *Postgres) Delete(ctx context.Context, table, key string) error {
	ctx, cancel, err := p.prepare(ctx, "delete", table)
	if err != nil {
		return err
	}
	defer cancel()

	if _, err := p.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE key = $1", postgresQuoteIdentifier(table)), key); err != nil {
		return &Error{Op: "delete", Table: table, Err: err}
	}
	return nil
}

func (p *Postgres) DeleteByID(ctx context.Context, table string, id int64) error {
	ctx, cancel, err := p.prepare(ctx, "delete_by_id", table)
	if err != nil {
		return err
	}
	defer cancel()

	result, err := p.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", postgresQuoteIdentifier(table)), id)
	if err != nil {
		return &Error{Op: "delete_by_id", Table: table, Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &Error{Op: "delete_by_id", Table: table, Err: err}
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
