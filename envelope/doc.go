// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope converts between the opaque bytes that cross the
// host channel and the records the enclave computes on.
//
// Every codec satisfies [Codec]: Decode turns a request envelope into a
// [record.Sensitive], Encode turns a [record.Result] into a response
// envelope. The pipeline is written against the interface only.
//
// Two codecs exist:
//
//   - [TranscodeCodec] speaks the legacy host proxy's format:
//     base64(JSON) with a bare-JSON fallback. It provides no
//     confidentiality and config refuses it in production.
//   - [SealedCodec] authenticates and encrypts with XChaCha20-Poly1305
//     under keys derived from a master key the key authority releases
//     only to an attested enclave. The request and response directions
//     use separate HKDF-derived keys, so a response can never be
//     replayed into the enclave as a request.
//
// Sealed envelope layout (before the optional base64 wrapping):
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
//
// The version byte and a direction byte are the AEAD additional data.
//
// Both codecs accept two wire forms on decode, wrapped (base64) first
// and bare second, and always emit the wrapped form. Decoded plaintext
// goes straight into locked memory owned by the returned record; no
// codec keeps a reference to a record after Decode returns.
package envelope
