// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds plaintext that must never leave enclave memory:
// decrypted sensitive records, released envelope keys, and the model
// identity.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock, and excludes it from core dumps
// via madvise(MADV_DONTDUMP). Close zeroes, unlocks, and unmaps it. The
// garbage collector never sees the region, so it cannot leave stale
// copies behind when a request finishes.
//
// Constructors:
//
//   - [New] allocates a zero-filled buffer of a given size
//   - [NewFromBytes] copies into protected memory and zeroes the source
//   - [ReadFromPath] reads a key file (or stdin) into protected memory
//
// [Buffer.Shrink] trims the visible length after a decoder writes fewer
// bytes than it reserved. After Close, any access panics.
package secret
