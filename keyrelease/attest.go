// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/enclave/lib/clock"
	"github.com/bureau-foundation/enclave/lib/codec"
	"github.com/bureau-foundation/enclave/lib/version"
)

// Measurement identifies an enclave image.
type Measurement [32]byte

func (m Measurement) String() string { return hex.EncodeToString(m[:]) }

// ParseMeasurement decodes a 64-character hex measurement.
func ParseMeasurement(text string) (Measurement, error) {
	var m Measurement
	raw, err := hex.DecodeString(text)
	if err != nil {
		return m, fmt.Errorf("parsing measurement: %w", err)
	}
	if len(raw) != len(m) {
		return m, fmt.Errorf("parsing measurement: got %d bytes, want %d", len(raw), len(m))
	}
	copy(m[:], raw)
	return m, nil
}

// MeasureFile returns the BLAKE3 digest of the file at path.
func MeasureFile(path string) (Measurement, error) {
	file, err := os.Open(path)
	if err != nil {
		return Measurement{}, fmt.Errorf("measuring %s: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return Measurement{}, fmt.Errorf("measuring %s: %w", path, err)
	}
	var m Measurement
	copy(m[:], hasher.Sum(nil))
	return m, nil
}

// MeasureSelf measures the running executable.
func MeasureSelf() (Measurement, error) {
	path, err := os.Executable()
	if err != nil {
		return Measurement{}, fmt.Errorf("locating executable: %w", err)
	}
	return MeasureFile(path)
}

// Document is an attestation document: a claim that an enclave with
// Measurement holds the private half of PublicKey, made in answer to
// Nonce.
type Document struct {
	ModuleID    string `cbor:"module_id"`
	Measurement []byte `cbor:"measurement"`
	PublicKey   []byte `cbor:"public_key"`
	Nonce       []byte `cbor:"nonce"`
	Timestamp   int64  `cbor:"timestamp"`
	Version     string `cbor:"version"`
}

// ParseDocument decodes and shape-checks a CBOR document.
func ParseDocument(data []byte) (Document, error) {
	var document Document
	if err := codec.Unmarshal(data, &document); err != nil {
		return Document{}, fmt.Errorf("decoding attestation document: %w", err)
	}
	switch {
	case document.ModuleID == "":
		return Document{}, errors.New("attestation document has no module_id")
	case len(document.Measurement) != len(Measurement{}):
		return Document{}, fmt.Errorf("attestation document measurement is %d bytes", len(document.Measurement))
	case len(document.Nonce) != NonceSize:
		return Document{}, fmt.Errorf("attestation document nonce is %d bytes", len(document.Nonce))
	case len(document.PublicKey) == 0:
		return Document{}, errors.New("attestation document has no public key")
	}
	return document, nil
}

// MeasurementValue returns the document's measurement. Call after
// ParseDocument.
func (d Document) MeasurementValue() Measurement {
	var m Measurement
	copy(m[:], d.Measurement)
	return m
}

// Attester produces attestation documents.
type Attester interface {
	Attest(ctx context.Context, nonce, publicKey []byte) ([]byte, error)
}

// DevAttester issues unsigned documents for a fixed measurement. It
// stands in for a hardware attestation service outside an enclave.
type DevAttester struct {
	ModuleID    string
	Measurement Measurement
	Clock       clock.Clock
}

// Attest implements Attester.
func (a DevAttester) Attest(ctx context.Context, nonce, publicKey []byte) ([]byte, error) {
	clk := a.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return codec.Marshal(Document{
		ModuleID:    a.ModuleID,
		Measurement: a.Measurement[:],
		PublicKey:   publicKey,
		Nonce:       nonce,
		Timestamp:   clk.Now().Unix(),
		Version:     version.Short(),
	})
}
