// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Enclave-keyauthority is the development key authority. It holds the
// sealed key bundle produced by "enclavectl keygen", answers
// attestation challenges from enclaves, and releases the bundle to
// images whose measurement appears in its TOML policy. Every decision
// is appended to a SQLite ledger.
//
// It does not verify hardware-signed attestation and is not meant for
// production key custody.
package main
