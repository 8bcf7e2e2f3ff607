// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"testing"
)

func TestCMACKnownAnswers(t *testing.T) {
	// RFC 4493 section 4 examples.
	key, _ := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"empty", "", "bb1d6929e95937287fa37d129b756746"},
		{"one block", "6bc1bee22e409f96e93d7e117393172a", "070a16b46b4d4144f79bdd9dd04a287c"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			message, _ := hex.DecodeString(test.message)
			sum, err := cmacSum(key, message)
			if err != nil {
				t.Fatalf("cmacSum: %v", err)
			}
			if got := hex.EncodeToString(sum); got != test.want {
				t.Errorf("cmacSum = %s, want %s", got, test.want)
			}
		})
	}
}

func TestKeyDerivationString(t *testing.T) {
	got := keyDerivationString([]byte("SK"))
	want := []byte{0x01, 'S', 'K', 0x00, 0x80, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("keyDerivationString(SK) = %x, want %x", got, want)
	}
}

func generateECDH(t *testing.T) *ecdh.PrivateKey {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

func TestSessionKeysAgree(t *testing.T) {
	authority := generateECDH(t)
	enclave := generateECDH(t)

	authorityKeys, err := deriveSessionKeys(authority, enclave.PublicKey())
	if err != nil {
		t.Fatalf("deriving authority keys: %v", err)
	}
	defer authorityKeys.Close()
	enclaveKeys, err := deriveSessionKeys(enclave, authority.PublicKey())
	if err != nil {
		t.Fatalf("deriving enclave keys: %v", err)
	}
	defer enclaveKeys.Close()

	if !bytes.Equal(authorityKeys.sealing.Bytes(), enclaveKeys.sealing.Bytes()) {
		t.Error("sealing keys differ")
	}
	if !bytes.Equal(authorityKeys.mac.Bytes(), enclaveKeys.mac.Bytes()) {
		t.Error("mac keys differ")
	}
	if bytes.Equal(authorityKeys.sealing.Bytes(), authorityKeys.mac.Bytes()) {
		t.Error("sealing and mac keys are equal")
	}

	plaintext := []byte("bundle contents")
	sealedBundle, err := authorityKeys.seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	opened, err := enclaveKeys.open(sealedBundle)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer opened.Close()
	if !bytes.Equal(opened.Bytes(), plaintext) {
		t.Errorf("opened = %q, want %q", opened.Bytes(), plaintext)
	}

	authorityKey := authority.PublicKey().Bytes()
	tag, err := authorityKeys.tag(authorityKey, sealedBundle)
	if err != nil {
		t.Fatalf("tag: %v", err)
	}
	if !enclaveKeys.verifyTag(tag, authorityKey, sealedBundle) {
		t.Error("tag does not verify")
	}
	tampered := bytes.Clone(sealedBundle)
	tampered[len(tampered)-1] ^= 1
	if enclaveKeys.verifyTag(tag, authorityKey, tampered) {
		t.Error("tag verifies over tampered bundle")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	keys, err := deriveSessionKeys(generateECDH(t), generateECDH(t).PublicKey())
	if err != nil {
		t.Fatalf("deriving keys: %v", err)
	}
	defer keys.Close()

	sealedBundle, err := keys.seal([]byte("bundle"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealedBundle[gcmNonceSize] ^= 1
	if _, err := keys.open(sealedBundle); err == nil {
		t.Error("open accepted a tampered bundle")
	}
	if _, err := keys.open(sealedBundle[:gcmNonceSize]); err == nil {
		t.Error("open accepted a truncated bundle")
	}
}

func TestSignature(t *testing.T) {
	signing, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	authorityKey := []byte("authority")
	enclaveKey := []byte("enclave")
	nonce := bytes.Repeat([]byte{7}, NonceSize)

	signature, err := signing.Sign(rand.Reader, signedDigest(authorityKey, enclaveKey, nonce), nil)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if !verifySignature(&signing.PublicKey, signature, authorityKey, enclaveKey, nonce) {
		t.Error("signature does not verify")
	}
	otherNonce := bytes.Repeat([]byte{8}, NonceSize)
	if verifySignature(&signing.PublicKey, signature, authorityKey, enclaveKey, otherNonce) {
		t.Error("signature verifies over a different nonce")
	}
}
