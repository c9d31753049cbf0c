// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"time"
)

// Timeout bounds every wait in Warden's tests. Background work is driven
// by a fake clock, so anything slower than this is a hang.
const Timeout = 5 * time.Second

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Background runs fn on its own goroutine and returns a channel that is
// closed when fn returns. Pair it with [Stopped] for loops that exit on
// context cancellation, such as the sweeper and the sync loop.
func Background(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

// Next returns the next value delivered on ch. It fails t if ch is
// closed or nothing arrives within [Timeout].
func Next[T any](t TB, ch <-chan T, what string) T {
	t.Helper()
	timer := time.NewTimer(Timeout) //nolint:realclock hang guard
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", what)
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: nothing arrived within %v", what, Timeout)
	}
	panic("unreachable")
}

// Stopped waits for done to close. It fails t when the goroutine
// behind done is still running after [Timeout].
func Stopped(t TB, done <-chan struct{}, what string) {
	t.Helper()
	timer := time.NewTimer(Timeout) //nolint:realclock hang guard
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		t.Fatalf("%s: still running after %v", what, Timeout)
	}
}
