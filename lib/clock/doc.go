// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall time so the sweeper, the sync loop and
// ticket idle tracking can be driven deterministically in tests.
//
// Production code takes a [Clock] and is handed [Real]. Tests hand it
// a [FakeClock], register waiters, and step time forward with
// [FakeClock.Advance]. [FakeClock.WaitForTimers] closes the race
// between a goroutine arming a timer and the test advancing past it.
package clock
