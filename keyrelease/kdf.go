// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/aead/cmac"

	"github.com/bureau-foundation/enclave/lib/secret"
)

var (
	sealingLabel = []byte("SK")
	macLabel     = []byte("MK")
)

// gcmNonceSize is the nonce prefix of a sealed bundle.
const gcmNonceSize = 12

// sessionKeys are the two keys both sides derive from one ECDH
// exchange. Close zeroes them.
type sessionKeys struct {
	sealing *secret.Buffer
	mac     *secret.Buffer
}

func (k *sessionKeys) Close() {
	k.sealing.Close()
	k.mac.Close()
}

// deriveSessionKeys runs ECDH between mine and peer and expands the
// shared secret into SK and MK.
func deriveSessionKeys(mine *ecdh.PrivateKey, peer *ecdh.PublicKey) (*sessionKeys, error) {
	shared, err := mine.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("key exchange: %w", err)
	}
	defer secret.Zero(shared)

	kdk, err := cmacSum(make([]byte, aes.BlockSize), shared)
	if err != nil {
		return nil, fmt.Errorf("deriving key derivation key: %w", err)
	}
	defer secret.Zero(kdk)

	sealing, err := deriveLabelKey(kdk, sealingLabel)
	if err != nil {
		return nil, err
	}
	mac, err := deriveLabelKey(kdk, macLabel)
	if err != nil {
		sealing.Close()
		return nil, err
	}
	return &sessionKeys{sealing: sealing, mac: mac}, nil
}

func deriveLabelKey(kdk, label []byte) (*secret.Buffer, error) {
	key, err := cmacSum(kdk, keyDerivationString(label))
	if err != nil {
		return nil, fmt.Errorf("deriving %s: %w", label, err)
	}
	return secret.NewFromBytes(key)
}

// keyDerivationString is 0x01 || label || 0x00 || 0x80 0x00: a counter,
// the label, a separator, and the output length in bits (128,
// little-endian).
func keyDerivationString(label []byte) []byte {
	out := make([]byte, 4+len(label))
	out[0] = 1
	copy(out[1:], label)
	out[len(out)-2] = 128
	return out
}

func cmacSum(key, message []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cmac.Sum(message, block, aes.BlockSize)
}

// tag authenticates a release response under MK.
func (k *sessionKeys) tag(authorityKey, sealedBundle []byte) ([]byte, error) {
	return cmacSum(k.mac.Bytes(), concat(authorityKey, sealedBundle))
}

func (k *sessionKeys) verifyTag(tag, authorityKey, sealedBundle []byte) bool {
	block, err := aes.NewCipher(k.mac.Bytes())
	if err != nil {
		return false
	}
	return cmac.Verify(tag, concat(authorityKey, sealedBundle), block, aes.BlockSize)
}

// seal encrypts plaintext under SK with a random 12-byte nonce prefix.
func (k *sessionKeys) seal(plaintext []byte) ([]byte, error) {
	aead, err := newGCM(k.sealing.Bytes())
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize, gcmNonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a sealed bundle into locked memory.
func (k *sessionKeys) open(sealed []byte) (*secret.Buffer, error) {
	aead, err := newGCM(k.sealing.Bytes())
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcmNonceSize+aead.Overhead() {
		return nil, errors.New("sealed bundle is too short")
	}
	plaintextSize := len(sealed) - gcmNonceSize - aead.Overhead()
	if plaintextSize == 0 {
		return nil, errors.New("sealed bundle is empty")
	}
	plaintext, err := secret.New(plaintextSize)
	if err != nil {
		return nil, err
	}
	if _, err := aead.Open(plaintext.Bytes()[:0], sealed[:gcmNonceSize], sealed[gcmNonceSize:], nil); err != nil {
		plaintext.Close()
		return nil, errors.New("sealed bundle failed authentication")
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// signedDigest is what the authority's long-term key signs.
func signedDigest(authorityKey, enclaveKey, nonce []byte) []byte {
	sum := sha256.Sum256(concat(authorityKey, enclaveKey, nonce))
	return sum[:]
}

func verifySignature(signer *ecdsa.PublicKey, signature, authorityKey, enclaveKey, nonce []byte) bool {
	return ecdsa.VerifyASN1(signer, signedDigest(authorityKey, enclaveKey, nonce), signature)
}

func concat(parts ...[]byte) []byte {
	size := 0
	for _, part := range parts {
		size += len(part)
	}
	out := make([]byte, 0, size)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}
