// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is Warden's durable key-value record store.
//
// A table holds records of (id, key, value, created_at). IDs are
// unique and increase monotonically per table; several records may
// share a key. Warden uses three tables: config (settings such as the
// transcripts room and the startup time), reminders and
// scheduled_broadcasts (the sweeper's delayed-delivery queues). The
// tables are independent and carry no foreign keys.
//
// Every operation is synchronous and individually atomic. A missing
// key or id yields [ErrNotFound], which callers treat as "use the
// default". Backend I/O failures are reported as [*Error] and are never
// retried here.
//
// Three backends implement [Store]: SQLite through lib/sqlitepool (the
// default), Pebble as an embedded LSM alternative, and PostgreSQL
// through lib/pq for operators who already run a database server. [Open] selects one from a [Config].
package store
