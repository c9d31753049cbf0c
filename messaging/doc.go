// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the parts of the Matrix client-server API that
// Warden uses.
//
// [Client] is unauthenticated: it holds the homeserver URL and the HTTP
// transport, and performs password login. [DirectSession] adds an access
// token (kept in lib/secret mmap memory) and exposes room management,
// messages, state events, redaction and /sync.
//
// All API errors come back as [*MatrixError] carrying the Matrix error
// code and the HTTP status. [IsMatrixError] tests for a specific code.
// Request paths are built by concatenating escaped segments rather than
// through url.URL, which would re-encode already-escaped room IDs.
package messaging
