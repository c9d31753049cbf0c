// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite's connection pool
// with the pragmas the Warden store expects: WAL journaling, a busy
// timeout so concurrent writers queue instead of failing, and foreign
// keys off (the store's tables are independent).
//
// The OnConnect hook runs once per connection and is where the store
// creates its tables.
package sqlitepool
