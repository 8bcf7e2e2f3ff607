// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the enclave's CBOR encoding configuration.
//
// Two serialization formats meet at the trust boundary:
//
//   - JSON for the host-facing channel: sensitive records, inference
//     results, and response envelopes keep the wire shape the host
//     proxy already speaks.
//   - CBOR for everything the enclave and the key authority exchange
//     between themselves: attestation documents, key-release RPC
//     messages, and the released key bundle.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2). An
// attestation document is hashed and MACed after encoding, so the same
// logical document must always produce identical bytes on both sides.
//
//	data, err := codec.Marshal(document)
//	err = codec.Unmarshal(data, &document)
//
// Types that only ever travel as CBOR use `cbor` struct tags. Types
// that also appear in JSON use `json` tags only; fxamacker/cbor reads
// them as a fallback.
package codec
