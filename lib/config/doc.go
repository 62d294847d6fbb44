// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the tunnel
// binaries.
//
// Configuration is loaded from a single file specified by either the
// PEERTUNNEL_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no automatic file
// search; binaries run on [Default] plus flags when neither is given.
//
// Variable expansion is performed on URL, path and credential fields
// after loading: ${VAR} and ${VAR:-default} patterns are expanded from
// the environment. Environment variables never override a value
// directly.
//
// Key exports:
//
//   - [Config] -- master struct with Signaling, ICE, Page, Intercept, Exit
//   - [Default] -- returns a Config with local development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other peertunnel packages.
package config
