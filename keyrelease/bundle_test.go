// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/enclave/lib/codec"
	"github.com/bureau-foundation/enclave/lib/sealed"
)

func TestSealBundleRoundTrip(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer keypair.Close()

	envelopeKey := bytes.Repeat([]byte{0x42}, 32)
	bundle := KeyBundle{EnvelopeKey: bytes.Clone(envelopeKey), ModelIdentity: []byte("AGE-SECRET-KEY-1TEST")}
	ciphertext, err := SealBundle(bundle, []string{keypair.Recipient})
	if err != nil {
		t.Fatalf("SealBundle: %v", err)
	}
	if !bytes.Equal(bundle.EnvelopeKey, make([]byte, 32)) {
		t.Error("SealBundle did not zero the envelope key")
	}

	encoded, err := OpenBundle(ciphertext, keypair.Identity)
	if err != nil {
		t.Fatalf("OpenBundle: %v", err)
	}
	defer encoded.Close()
	var opened KeyBundle
	if err := codec.Unmarshal(encoded.Bytes(), &opened); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened.EnvelopeKey, envelopeKey) {
		t.Errorf("envelope key = %x, want %x", opened.EnvelopeKey, envelopeKey)
	}
	if string(opened.ModelIdentity) != "AGE-SECRET-KEY-1TEST" {
		t.Errorf("model identity = %q", opened.ModelIdentity)
	}
}

func TestSealBundleRejectsShortKey(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer keypair.Close()
	if _, err := SealBundle(KeyBundle{EnvelopeKey: make([]byte, 16)}, []string{keypair.Recipient}); err == nil {
		t.Error("SealBundle accepted a 16-byte envelope key")
	}
}

func TestSigningKeyFiles(t *testing.T) {
	directory := t.TempDir()
	key, err := GenerateSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	private, err := MarshalSigningKey(key)
	if err != nil {
		t.Fatal(err)
	}
	public, err := MarshalVerifyingKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	privatePath := filepath.Join(directory, "signing.pem")
	publicPath := filepath.Join(directory, "verifying.pem")
	if err := os.WriteFile(privatePath, private, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(publicPath, public, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadSigningKey(privatePath)
	if err != nil {
		t.Fatalf("LoadSigningKey: %v", err)
	}
	if !loaded.Equal(key) {
		t.Error("loaded signing key differs")
	}
	verifying, err := LoadVerifyingKey(publicPath)
	if err != nil {
		t.Fatalf("LoadVerifyingKey: %v", err)
	}
	if !verifying.Equal(&key.PublicKey) {
		t.Error("loaded verifying key differs")
	}

	if _, err := LoadSigningKey(publicPath); err == nil {
		t.Error("LoadSigningKey accepted a public key")
	}
	garbage := filepath.Join(directory, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not pem"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadVerifyingKey(garbage); err == nil {
		t.Error("LoadVerifyingKey accepted a non-PEM file")
	}
}
