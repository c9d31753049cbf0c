// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/warden-bot/warden/lib/clock"
)

// Well-known tables.
const (
	TableConfig     = "config"
	TableReminders  = "reminders"
	TableBroadcasts = "scheduled_broadcasts"
	TableReviews    = "ticket_reviews"
)

// ErrNotFound reports a missing key or record id.
var ErrNotFound = errors.New("store: not found")

// Error wraps a backend I/O failure.
type Error struct {
	Op    string
	Table string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Record is one stored row.
type Record struct {
	ID        int64
	Key       string
	Value     []byte
	CreatedAt time.Time
}

// Store is the durable record store.
type Store interface {
	// Append adds a record and returns its id.
	Append(ctx context.Context, table, key string, value []byte) (int64, error)

	// Set atomically replaces every record of key with one new record.
	Set(ctx context.Context, table, key string, value []byte) (int64, error)

	// Get returns the most recent record of key.
	Get(ctx context.Context, table, key string) (Record, error)

	// GetAll returns every record of key, oldest first. A key with no
	// records yields ErrNotFound.
	GetAll(ctx context.Context, table, key string) ([]Record, error)

	// GetLast returns up to n of the most recent records of key,
	// newest first.
	GetLast(ctx context.Context, table, key string, n int) ([]Record, error)

	// Keys returns the distinct keys present in table, sorted.
	Keys(ctx context.Context, table string) ([]string, error)

	// Scan returns every record in table in id order.
	Scan(ctx context.Context, table string) ([]Record, error)

	// Delete removes every record of key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, table, key string) error

	// DeleteByID removes exactly one record. Of several concurrent
	// callers deleting the same id, exactly one gets nil; the others
	// get ErrNotFound.
	DeleteByID(ctx context.Context, table string, id int64) error

	Close() error
}

var tablePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func checkTable(table string) error {
	if !tablePattern.MatchString(table) {
		return fmt.Errorf("store: invalid table name %q", table)
	}
	return nil
}

// Config selects and parameterizes a backend.
type Config struct {
	// Backend is sqlite, pebble or postgres.
	Backend string

	// Path is the sqlite file or pebble directory.
	Path string

	// DSN is the postgres connection string.
	DSN string

	PoolSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	switch cfg.Backend {
	case "", "sqlite":
		return OpenSQLite(cfg)
	case "pebble":
		return OpenPebble(cfg)
	case "postgres":
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// GetString returns the latest value of key as a string, or fallback
// when the key is absent.
func GetString(ctx context.Context, s Store, table, key, fallback string) (string, error) {
	record, err := s.Get(ctx, table, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return string(record.Value), nil
}
