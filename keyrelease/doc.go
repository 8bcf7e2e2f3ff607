// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyrelease gates the enclave's key material on attestation.
//
// At startup a sealed-codec enclave cannot decrypt anything: its
// envelope master key and model identity are held by a key authority.
// The enclave obtains them in two round trips over gRPC:
//
//  1. Challenge: the authority issues a session ID and a fresh 32-byte
//     nonce, remembered for a short time.
//  2. Release: the enclave generates an ephemeral P-256 key and sends
//     an attestation [Document] binding its measurement, that public
//     key, and the nonce. The authority checks the nonce, the
//     document's freshness, and the measurement against its allowlist.
//     It then performs ECDH with its own ephemeral key, derives a
//     sealing key SK and a MAC key MK from the shared secret, and
//     returns the [KeyBundle] sealed under SK, a CMAC tag under MK,
//     and an ECDSA signature by its long-term key over both public keys
//     and the nonce.
//
// The key derivation follows the SGX remote-attestation KDF: a key
// derivation key is the AES-CMAC of the shared secret under a zero key,
// and each session key is the AES-CMAC of a labelled derivation string
// under it.
//
// Every decision the authority makes is appended to a SQLite [Ledger].
//
// Attestation documents here come from [DevAttester], which does not
// involve hardware. Its measurement is a BLAKE3 digest of the running
// executable.
//
// Messages travel as CBOR. The package registers a gRPC codec named
// "cbor" and describes the service by hand, so there is no protobuf
// toolchain in the build.
package keyrelease
