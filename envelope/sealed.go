// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/enclave/lib/record"
	"github.com/bureau-foundation/enclave/lib/secret"
)

// KeySize is the size of the released master key and of every key
// derived from it.
const KeySize = 32

// SealedVersion is the first byte of every sealed envelope and part of
// its additional data.
const SealedVersion byte = 0x01

// SealedOverhead is the per-envelope size overhead before base64:
// version, XChaCha20 nonce, Poly1305 tag.
const SealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Direction binds a sealed envelope to the way it travels.
type Direction byte

const (
	// DirectionRequest is host to enclave.
	DirectionRequest Direction = 0x01
	// DirectionResponse is enclave to host.
	DirectionResponse Direction = 0x02
)

// HKDF info strings. Changing one invalidates every envelope sealed
// under it.
var (
	hkdfInfoRequest   = []byte("enclave.envelope.request.v1")
	hkdfInfoResponse  = []byte("enclave.envelope.response.v1")
	hkdfInfoReference = []byte("enclave.envelope.reference.v1")
)

// KeySet holds the per-direction envelope keys in locked memory. The
// enclave and the host tooling derive identical sets from the same
// master key.
type KeySet struct {
	requestKey  *secret.Buffer
	responseKey *secret.Buffer
	references  referencer
}

// NewKeySet derives the envelope keys from master. It takes ownership
// of master and closes it once derivation is done, whether or not it
// succeeds.
func NewKeySet(master *secret.Buffer) (*KeySet, error) {
	defer master.Close()

	if master.Len() != KeySize {
		return nil, fmt.Errorf("envelope master key must be %d bytes, got %d", KeySize, master.Len())
	}

	requestKey, err := deriveKey(master.Bytes(), hkdfInfoRequest)
	if err != nil {
		return nil, err
	}
	responseKey, err := deriveKey(master.Bytes(), hkdfInfoResponse)
	if err != nil {
		requestKey.Close()
		return nil, err
	}
	referenceKey, err := deriveKey(master.Bytes(), hkdfInfoReference)
	if err != nil {
		requestKey.Close()
		responseKey.Close()
		return nil, err
	}
	var references referencer
	copy(references.key[:], referenceKey.Bytes())
	referenceKey.Close()

	return &KeySet{
		requestKey:  requestKey,
		responseKey: responseKey,
		references:  references,
	}, nil
}

// Close zeroes and releases the derived keys. Idempotent.
func (k *KeySet) Close() error {
	secret.Zero(k.references.key[:])
	return errors.Join(k.requestKey.Close(), k.responseKey.Close())
}

func (k *KeySet) keyFor(direction Direction) *secret.Buffer {
	if direction == DirectionRequest {
		return k.requestKey
	}
	return k.responseKey
}

// SealedCodec is the AEAD codec used whenever records carry real data.
type SealedCodec struct {
	keys *KeySet
}

// NewSealedCodec returns a codec over keys. The codec borrows keys;
// the owner closes them.
func NewSealedCodec(keys *KeySet) *SealedCodec {
	return &SealedCodec{keys: keys}
}

// Name implements Codec.
func (c *SealedCodec) Name() string { return "sealed" }

// Reference implements Codec. Sealed references are stable across
// restarts for the same master key, so the host operator can correlate
// an envelope it forwarded with the enclave's log line.
func (c *SealedCodec) Reference(envelope []byte) string {
	return c.keys.references.reference(envelope)
}

// Decode implements Codec.
func (c *SealedCodec) Decode(envelope []byte) (*record.Sensitive, error) {
	return decodeForms(envelope, c.decodeWrapped, c.decodeBare)
}

func (c *SealedCodec) decodeWrapped(text []byte) (*record.Sensitive, error) {
	blob, err := unwrap(text)
	if err != nil {
		return nil, err
	}
	return c.decodeBare(blob)
}

func (c *SealedCodec) decodeBare(blob []byte) (*record.Sensitive, error) {
	plaintext, err := openBlob(blob, c.keys.keyFor(DirectionRequest), DirectionRequest)
	if err != nil {
		return nil, err
	}
	sensitive, err := record.Parse(plaintext)
	if err != nil {
		return nil, describeParseError(err)
	}
	return sensitive, nil
}

// Encode implements Codec.
func (c *SealedCodec) Encode(result record.Result) ([]byte, error) {
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	plaintext, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	defer secret.Zero(plaintext)

	blob, err := sealBlob(plaintext, c.keys.keyFor(DirectionResponse), DirectionResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return wrap(blob), nil
}

// sealBlob encrypts plaintext into the sealed envelope layout.
func sealBlob(plaintext []byte, key *secret.Buffer, direction Direction) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	output := make([]byte, 1+len(nonce), SealedOverhead+len(plaintext))
	output[0] = SealedVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], plaintext, additionalData(SealedVersion, direction)), nil
}

// openBlob authenticates and decrypts a sealed envelope directly into
// locked memory.
func openBlob(blob []byte, key *secret.Buffer, direction Direction) (*secret.Buffer, error) {
	if len(blob) < SealedOverhead {
		return nil, fmt.Errorf("sealed envelope is %d bytes, minimum is %d", len(blob), SealedOverhead)
	}
	version := blob[0]
	if version != SealedVersion {
		return nil, fmt.Errorf("sealed envelope version %d is not supported", version)
	}
	if len(blob) == SealedOverhead {
		return nil, errors.New("sealed envelope carries no payload")
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	plaintext, err := secret.New(len(ciphertext) - aead.Overhead())
	if err != nil {
		return nil, err
	}
	if _, err := aead.Open(plaintext.Bytes()[:0], nonce, ciphertext, additionalData(version, direction)); err != nil {
		plaintext.Close()
		return nil, errors.New("authentication failed")
	}
	return plaintext, nil
}

func additionalData(version byte, direction Direction) []byte {
	return []byte{version, byte(direction)}
}

// deriveKey expands a 32-byte key with HKDF-SHA256. The master key is
// uniformly random, so the extract step runs with a nil salt.
func deriveKey(inputKeyMaterial []byte, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}
