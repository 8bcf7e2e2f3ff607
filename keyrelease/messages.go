// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

// NonceSize is the length of an authority challenge nonce.
const NonceSize = 32

// ChallengeRequest opens a release session.
type ChallengeRequest struct {
	ModuleID string `cbor:"module_id"`
}

// ChallengeResponse carries the nonce the attestation document must
// echo.
type ChallengeResponse struct {
	SessionID uint64 `cbor:"session_id"`
	Nonce     []byte `cbor:"nonce"`

	// ExpiresAt is the Unix time after which the session is gone.
	ExpiresAt int64 `cbor:"expires_at"`
}

// ReleaseRequest presents an attestation document for a session.
type ReleaseRequest struct {
	SessionID uint64 `cbor:"session_id"`

	// Document is a CBOR-encoded Document.
	Document []byte `cbor:"document"`
}

// ReleaseResponse carries the sealed key bundle.
type ReleaseResponse struct {
	// AuthorityKey is the authority's ephemeral P-256 public key,
	// uncompressed.
	AuthorityKey []byte `cbor:"authority_key"`

	// Signature is the authority's long-term ECDSA signature (ASN.1)
	// over SHA-256(AuthorityKey || enclave public key || nonce).
	Signature []byte `cbor:"signature"`

	// SealedBundle is nonce(12) || AES-GCM(SK, CBOR KeyBundle).
	SealedBundle []byte `cbor:"sealed_bundle"`

	// Tag is AES-CMAC(MK, AuthorityKey || SealedBundle).
	Tag []byte `cbor:"tag"`
}

// KeyBundle is the material the authority releases to a trusted
// enclave.
type KeyBundle struct {
	// EnvelopeKey is the 32-byte envelope master key.
	EnvelopeKey []byte `cbor:"envelope_key"`

	// ModelIdentity is the age identity that opens the sealed model
	// artifact. Empty when no model is provisioned.
	ModelIdentity []byte `cbor:"model_identity,omitempty"`
}
