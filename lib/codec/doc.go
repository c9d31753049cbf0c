// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Warden's CBOR encoding configuration.
//
// JSON is used for everything that crosses the Matrix client-server
// API and the ops endpoint. CBOR is used for values Warden writes into
// its own durable store: job envelopes in the reminders and
// scheduled_broadcasts tables and archive manifests. The encoder uses
// Core Deterministic Encoding (RFC 8949 §4.2), so the same logical
// value always produces identical bytes.
//
// Types that are only ever stored carry `cbor` struct tags. Types that
// are also rendered as JSON carry `json` tags, which fxamacker/cbor
// reads as a fallback. Never put both on one field.
package codec
