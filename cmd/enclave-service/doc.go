// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Enclave-service is the process that runs inside the enclave. It
// listens on the vsock port the host proxy dials, decrypts each request
// envelope in enclave memory, scores it, and returns an encrypted
// result. With the sealed codec it obtains its keys from a key
// authority at startup and refuses to start without them.
package main
