// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for the two artifacts that rest
// outside the enclave encrypted: the inference model and the key bundle
// held by the key authority.
//
// Both are binary age files. [Seal] encrypts to one or more x25519
// recipients; [Open] decrypts with an identity held in a
// [secret.Buffer] and returns the plaintext in another secret buffer.
// The enclave never holds the model identity until the key authority
// has released it, so an operator with only the sealed model file on
// the host learns nothing about the model.
package sealed
