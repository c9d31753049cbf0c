// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/sqlitepool"
)

// SQLite is the default Store backend.
type SQLite struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	// tableMu serializes CREATE TABLE; knownTables caches tables
	// that already exist.
	tableMu     sync.Mutex
	knownTables map[string]bool
}

// OpenSQLite opens (creating if needed) the database at cfg.Path.
func OpenSQLite(cfg Config) (*SQLite, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, &Error{Op: "open", Table: cfg.Path, Err: err}
	}
	return &SQLite{
		pool:        pool,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		knownTables: make(map[string]bool),
	}, nil
}

// Close closes the connection pool.
func (s *SQLite) Close() error {
	return s.pool.Close()
}

func (s *SQLite) ensureTable(conn *sqlite.Conn, table string) error {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	if s.knownTables[table] {
		return nil
	}

	err := sqlitex.ExecuteScript(conn, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_key ON %[1]s (key, created_at);
	`, table), nil)
	if err != nil {
		return err
	}
	s.knownTables[table] = true
	return nil
}

// withConn validates table, borrows a connection and makes sure the
// table exists before running fn.
func (s *SQLite) withConn(ctx context.Context, op, table string, fn func(*sqlite.Conn) error) error {
	if err := checkTable(table); err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return &Error{Op: op, Table: table, Err: err}
	}
	defer s.pool.Put(conn)

	if err := s.ensureTable(conn, table); err != nil {
		return &Error{Op: op, Table: table, Err: err}
	}
	if err := fn(conn); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &Error{Op: op, Table: table, Err: err}
	}
	return nil
}

func (s *SQLite) insert(conn *sqlite.Conn, table, key string, value []byte) (int64, error) {
	if value == nil {
		value = []byte{}
	}
	err := sqlitex.Execute(conn,
		fmt.Sprintf("INSERT INTO %s (key, value, created_at) VALUES (?, ?, ?)", table),
		&sqlitex.ExecOptions{Args: []any{key, value, s.clock.Now().UnixNano()}})
	if err != nil {
		return 0, err
	}
	return conn.LastInsertRowID(), nil
}

func (s *SQLite) Append(ctx context.Context, table, key string, value []byte) (int64, error) {
	var id int64
	err := s.withConn(ctx, "append", table, func(conn *sqlite.Conn) error {
		var err error
		id, err = s.insert(conn, table, key, value)
		return err
	})
	return id, err
}

func (s *SQLite) Set(ctx context.Context, table, key string, value []byte) (int64, error) {
	var id int64
	err := s.withConn(ctx, "set", table, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)

		err = sqlitex.Execute(conn, fmt.Sprintf("DELETE FROM %s WHERE key = ?", table),
			&sqlitex.ExecOptions{Args: []any{key}})
		if err != nil {
			return err
		}
		id, err = s.insert(conn, table, key, value)
		return err
	})
	return id, err
}

func (s *SQLite) query(conn *sqlite.Conn, query string, args ...any) ([]Record, error) {
	var records []Record
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value := make([]byte, stmt.ColumnLen(2))
			stmt.ColumnBytes(2, value)
			records = append(records, Record{
				ID:        stmt.ColumnInt64(0),
				Key:       stmt.ColumnText(1),
				Value:     value,
				CreatedAt: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
			})
			return nil
		},
	})
	return records, err
}

func (s *SQLite) Get(ctx context.Context, table, key string) (Record, error) {
	records, err := s.GetLast(ctx, table, key, 1)
	if err != nil {
		return Record{}, err
	}
	return records[0], nil
}

func (s *SQLite) GetAll(ctx context.Context, table, key string) ([]Record, error) {
	var records []Record
	err := s.withConn(ctx, "get_all", table, func(conn *sqlite.Conn) error {
		var err error
		records, err = s.query(conn, fmt.Sprintf(
			"SELECT id, key, value, created_at FROM %s WHERE key = ? ORDER BY created_at, id", table), key)
		if err == nil && len(records) == 0 {
			return ErrNotFound
		}
		return err
	})
	return records, err
}

func (s *SQLite) GetLast(ctx context.Context, table, key string, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	var records []Record
	err := s.withConn(ctx, "get_last", table, func(conn *sqlite.Conn) error {
		var err error
		records, err = s.query(conn, fmt.Sprintf(
			"SELECT id, key, value, created_at FROM %s WHERE key = ? ORDER BY created_at DESC, id DESC LIMIT ?", table),
			key, n)
		if err == nil && len(records) == 0 {
			return ErrNotFound
		}
		return err
	})
	return records, err
}

func (s *SQLite) Keys(ctx context.Context, table string) ([]string, error) {
	var keys []string
	err := s.withConn(ctx, "keys", table, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, fmt.Sprintf("SELECT DISTINCT key FROM %s ORDER BY key", table),
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				keys = append(keys, stmt.ColumnText(0))
				return nil
			}})
	})
	return keys, err
}

func (s *SQLite) Scan(ctx context.Context, table string) ([]Record, error) {
	var records []Record
	err := s.withConn(ctx, "scan", table, func(conn *sqlite.Conn) error {
		var err error
		records, err = s.query(conn, fmt.Sprintf(
			"SELECT id, key, value, created_at FROM %s ORDER BY id", table))
		return err
	})
	return records, err
}

func (s *SQLite) Delete(ctx context.Context, table, key string) error {
	return s.withConn(ctx, "delete", table, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, fmt.Sprintf("DELETE FROM %s WHERE key = ?", table),
			&sqlitex.ExecOptions{Args: []any{key}})
	})
}

func (s *SQLite) DeleteByID(ctx context.Context, table string, id int64) error {
	return s.withConn(ctx, "delete_by_id", table, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table),
			&sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
