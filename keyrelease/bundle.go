// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/enclave/lib/codec"
	"github.com/bureau-foundation/enclave/lib/sealed"
	"github.com/bureau-foundation/enclave/lib/secret"
)

// envelopeKeySize matches envelope.KeySize.
const envelopeKeySize = 32

// Validate checks the bundle's shape.
func (b KeyBundle) Validate() error {
	if len(b.EnvelopeKey) != envelopeKeySize {
		return fmt.Errorf("key bundle envelope key is %d bytes, want %d", len(b.EnvelopeKey), envelopeKeySize)
	}
	return nil
}

// SealBundle encodes bundle and seals it to the authority's age
// recipients for storage. The bundle's byte slices are zeroed.
func SealBundle(bundle KeyBundle, recipients []string) ([]byte, error) {
	defer secret.Zero(bundle.EnvelopeKey)
	defer secret.Zero(bundle.ModelIdentity)

	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	encoded, err := codec.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encoding key bundle: %w", err)
	}
	defer secret.Zero(encoded)
	return sealed.Seal(encoded, recipients)
}

// OpenBundle decrypts a stored bundle with the authority's identity.
// The result holds the encoded bundle in locked memory, which is what
// the authority seals into release responses.
func OpenBundle(ciphertext []byte, identity *secret.Buffer) (*secret.Buffer, error) {
	encoded, err := sealed.Open(ciphertext, identity)
	if err != nil {
		return nil, fmt.Errorf("opening key bundle: %w", err)
	}
	var bundle KeyBundle
	if err := codec.Unmarshal(encoded.Bytes(), &bundle); err != nil {
		encoded.Close()
		return nil, fmt.Errorf("decoding key bundle: %w", err)
	}
	defer secret.Zero(bundle.EnvelopeKey)
	defer secret.Zero(bundle.ModelIdentity)
	if err := bundle.Validate(); err != nil {
		encoded.Close()
		return nil, err
	}
	return encoded, nil
}

// GenerateSigningKey returns a fresh long-term P-256 authority key.
func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// MarshalSigningKey encodes key as a PKCS#8 PEM block.
func MarshalSigningKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encoding signing key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// MarshalVerifyingKey encodes the public half of a signing key as a
// PKIX PEM block.
func MarshalVerifyingKey(key *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("encoding verifying key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// LoadSigningKey reads a PKCS#8 PEM P-256 private key.
func LoadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key %s: %w", path, err)
	}
	signing, ok := key.(*ecdsa.PrivateKey)
	if !ok || signing.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key %s is not a P-256 ECDSA key", path)
	}
	return signing, nil
}

// LoadVerifyingKey reads a PKIX PEM P-256 public key.
func LoadVerifyingKey(path string) (*ecdsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing verifying key %s: %w", path, err)
	}
	verifying, ok := key.(*ecdsa.PublicKey)
	if !ok || verifying.Curve != elliptic.P256() {
		return nil, fmt.Errorf("verifying key %s is not a P-256 ECDSA key", path)
	}
	return verifying, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New(path + ": no PEM block")
	}
	return block, nil
}
