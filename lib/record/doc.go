// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package record defines the two values that exist only inside the
// enclave's request pipeline: the decrypted [Sensitive] record and the
// derived [Result].
//
// A Sensitive record owns the plaintext it was parsed from. The bytes
// live in a [secret.Buffer] and the record indexes fields in place, so
// only field names and the values the engine reads are copied out of
// locked memory. Close zeroes the buffer and drops the index. Field
// values are never logged and have no String method that would print
// them.
//
// The schema is open. Unknown fields are kept and ignored by the
// inference engine, never rejected.
package record
