// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint error handling shared by the
// enclave binaries. main() calls [Fatal] with whatever run() returned,
// before or after the structured logger exists, so the message goes
// to stderr unformatted.
//
// An error that carries an ExitCode() int method picks its own exit
// status; everything else exits 1.
package process
