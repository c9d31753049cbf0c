// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for Warden binaries.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// [Info] formats them for --version; [Build] returns them as a struct
// for the /healthz response.
package version
