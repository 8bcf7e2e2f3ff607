// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the enclave
// service.
//
// Configuration is loaded from a single file named by either the
// ENCLAVE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no file discovery. With neither set, [Load]
// returns [Default], which is a complete development configuration.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production defaults to the sealed
// codec, and [Config.Validate] refuses the transcode codec there.
//
// The one environment variable that overrides a value is VSOCK_PORT,
// which sets the listen port after the file and overrides are applied.
// Path-like fields also expand ${HOME} and ${VAR:-default} patterns.
//
// This package depends on no other enclave packages.
package config
