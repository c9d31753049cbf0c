// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wait helpers shared by Warden's
// concurrency tests.
//
// Tests drive the sweeper, the sync loop and the registry through a
// fake clock, so the only wall-clock reads in the suite are the hang
// guards in [Next] and [Stopped]. Both fail the test with t.Fatalf
// rather than returning an error.
package testutil
