// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Warden's YAML configuration.
//
// Configuration comes from exactly one file, named either by the
// WARDEN_CONFIG environment variable ([Load]) or by a --config flag
// ([LoadFile]). There is no discovery and no search path.
//
// The file may carry development, staging and production sections that
// override base values when [Config].Environment matches. After
// loading, ${VAR} and ${VAR:-default} patterns are expanded in path
// fields and the store DSN, so secrets can live in the environment (or
// a .env file loaded by the daemon) rather than in the YAML itself.
//
// This package depends on no other Warden packages.
package config
