// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package enclave assembles the enclave service from its parts.
//
// [Bootstrap] builds a [ServiceContext] once at startup: it measures
// the running image, builds the envelope codec (for the sealed codec,
// by obtaining the master key through attestation-gated key release),
// and loads the model. The context is immutable afterwards and is
// shared by every request without locking.
//
// [Run] binds the channel listener described by the configuration and
// serves the request pipeline on it until the context is cancelled.
package enclave
