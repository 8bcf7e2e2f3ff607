// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inference

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/enclave/lib/sealed"
	"github.com/bureau-foundation/enclave/lib/secret"
)

// A model artifact is an age file whose plaintext is:
//
//	[Magic "EMDL": 4] [Version: 1] [Compression: 1] [Definition size: 4, big-endian]
//	[BLAKE3 of definition: 32] [Compressed definition]
//
// The digest covers the uncompressed JSONC definition, so a model is
// identified by the same digest whatever compression it shipped with.
const (
	artifactVersion    byte = 0x01
	artifactHeaderSize      = 4 + 1 + 1 + 4 + 32
	maxDefinitionSize       = 1 << 20
)

var artifactMagic = [4]byte{'E', 'M', 'D', 'L'}

// Digest is the BLAKE3 hash of a model definition.
type Digest [32]byte

// String returns the digest as lowercase hex.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// ParseDigest decodes a 64-character hex digest.
func ParseDigest(text string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(text)
	if err != nil {
		return d, fmt.Errorf("parsing model digest: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("parsing model digest: got %d bytes, want %d", len(raw), len(d))
	}
	copy(d[:], raw)
	return d, nil
}

// DigestDefinition hashes a model definition.
func DigestDefinition(definition []byte) Digest {
	return Digest(blake3.Sum256(definition))
}

// BuildArtifact packs a definition into the artifact plaintext. The
// definition must parse as a valid model.
func BuildArtifact(definition []byte, tag CompressionTag) ([]byte, error) {
	if _, err := ParseModel(definition); err != nil {
		return nil, err
	}
	if len(definition) > maxDefinitionSize {
		return nil, fmt.Errorf("model definition is %d bytes, limit is %d", len(definition), maxDefinitionSize)
	}
	compressed, err := compress(definition, tag)
	if err != nil {
		return nil, err
	}

	digest := DigestDefinition(definition)
	artifact := make([]byte, artifactHeaderSize, artifactHeaderSize+len(compressed))
	copy(artifact[0:4], artifactMagic[:])
	artifact[4] = artifactVersion
	artifact[5] = byte(tag)
	binary.BigEndian.PutUint32(artifact[6:10], uint32(len(definition)))
	copy(artifact[10:42], digest[:])
	return append(artifact, compressed...), nil
}

// SealArtifact builds an artifact and age-encrypts it to recipients.
func SealArtifact(definition []byte, tag CompressionTag, recipients []string) ([]byte, error) {
	artifact, err := BuildArtifact(definition, tag)
	if err != nil {
		return nil, err
	}
	return sealed.Seal(artifact, recipients)
}

// OpenArtifact unpacks artifact plaintext, verifying its digest, and
// returns the parsed model and its digest.
func OpenArtifact(artifact []byte) (Model, Digest, error) {
	if len(artifact) < artifactHeaderSize {
		return Model{}, Digest{}, fmt.Errorf("model artifact is %d bytes, header alone is %d", len(artifact), artifactHeaderSize)
	}
	if !bytes.Equal(artifact[0:4], artifactMagic[:]) {
		return Model{}, Digest{}, errors.New("not a model artifact (bad magic)")
	}
	if artifact[4] != artifactVersion {
		return Model{}, Digest{}, fmt.Errorf("model artifact version %d is not supported", artifact[4])
	}
	tag := CompressionTag(artifact[5])
	size := binary.BigEndian.Uint32(artifact[6:10])
	if size > maxDefinitionSize {
		return Model{}, Digest{}, fmt.Errorf("model definition claims %d bytes, limit is %d", size, maxDefinitionSize)
	}
	var want Digest
	copy(want[:], artifact[10:42])

	definition, err := decompress(artifact[artifactHeaderSize:], tag, int(size))
	if err != nil {
		return Model{}, Digest{}, err
	}
	got := DigestDefinition(definition)
	if got != want {
		return Model{}, Digest{}, fmt.Errorf("model digest mismatch: artifact says %s, definition hashes to %s", want, got)
	}

	model, err := ParseModel(definition)
	if err != nil {
		return Model{}, Digest{}, err
	}
	return model, got, nil
}

// Source describes where the sealed model lives and the identity that
// opens it. Identity is borrowed.
type Source struct {
	Path     string
	Identity *secret.Buffer

	// ExpectedDigest, if non-zero, pins the exact definition.
	ExpectedDigest Digest
}

// Status reports how the engine's model was obtained.
type Status struct {
	Ready   bool
	Name    string
	Version string
	Digest  string

	// Reason explains a degraded load. Empty when Ready.
	Reason string
}

// LoadModel opens the sealed model at source. It never fails: any
// problem yields DefaultModel and a Status with Ready false and the
// reason.
func LoadModel(source Source) (Model, Status) {
	model, digest, err := loadSealed(source)
	if err != nil {
		fallback := DefaultModel()
		return fallback, Status{
			Name:    fallback.Name,
			Version: fallback.Version,
			Reason:  err.Error(),
		}
	}
	return model, Status{
		Ready:   true,
		Name:    model.Name,
		Version: model.Version,
		Digest:  digest.String(),
	}
}

func loadSealed(source Source) (Model, Digest, error) {
	if source.Path == "" {
		return Model{}, Digest{}, errors.New("no model artifact configured")
	}
	if source.Identity == nil {
		return Model{}, Digest{}, errors.New("model identity was not released")
	}

	ciphertext, err := os.ReadFile(source.Path)
	if err != nil {
		return Model{}, Digest{}, fmt.Errorf("reading model artifact: %w", err)
	}
	artifact, err := sealed.Open(ciphertext, source.Identity)
	if err != nil {
		return Model{}, Digest{}, fmt.Errorf("opening model artifact: %w", err)
	}
	defer artifact.Close()

	model, digest, err := OpenArtifact(artifact.Bytes())
	if err != nil {
		return Model{}, Digest{}, err
	}
	if source.ExpectedDigest != (Digest{}) && digest != source.ExpectedDigest {
		return Model{}, Digest{}, fmt.Errorf("model digest %s does not match pinned %s", digest, source.ExpectedDigest)
	}
	return model, digest, nil
}
