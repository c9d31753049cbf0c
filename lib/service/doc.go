// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package service holds the Matrix plumbing Warden's daemon is built
// from:
//
//   - Session loading: read session.json from the state directory and
//     create an authenticated client and session. warden-login writes
//     the file with SaveSession.
//   - Sync loop: incremental /sync long-poll with exponential backoff,
//     delivering each response to a caller-provided handler.
//
// The daemon composes these in its own main function. The package
// provides building blocks, not a runtime.
package service
