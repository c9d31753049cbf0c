// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credentials outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked against swap and
// excluded from core dumps. Warden keeps the Matrix access token and
// the login password in Buffers; the bytes are zeroed on Close. Callers
// convert to string only at the HTTP boundary.
package secret
