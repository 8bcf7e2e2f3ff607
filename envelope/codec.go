// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/enclave/lib/record"
	"github.com/bureau-foundation/enclave/lib/secret"
)

var (
	// ErrDataFormat means neither the wrapped nor the bare form of an
	// envelope could be decoded into a record.
	ErrDataFormat = errors.New("envelope: unrecognized envelope")

	// ErrEncoding means a result could not be serialized into an
	// envelope.
	ErrEncoding = errors.New("envelope: cannot encode result")
)

// Codec is the boundary between channel bytes and enclave records.
type Codec interface {
	// Decode turns a request envelope into a record. The caller owns
	// the record and must Close it.
	Decode(envelope []byte) (*record.Sensitive, error)

	// Encode turns a result into a response envelope.
	Encode(result record.Result) ([]byte, error)

	// Reference returns a short keyed digest of envelope for logs. It
	// identifies an envelope without revealing anything about it.
	Reference(envelope []byte) string

	// Name identifies the codec in logs and config ("transcode",
	// "sealed").
	Name() string
}

// decodeForms runs the wrapped attempt and, if it fails, the bare
// attempt, folding both failures into one ErrDataFormat. Only the
// wrapped attempt sees whitespace-trimmed input: a bare sealed blob may
// legitimately end in a byte that looks like whitespace.
func decodeForms(envelope []byte, wrapped, bare func([]byte) (*record.Sensitive, error)) (*record.Sensitive, error) {
	trimmed := bytes.TrimSpace(envelope)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: envelope is empty", ErrDataFormat)
	}

	sensitive, wrappedErr := wrapped(trimmed)
	if wrappedErr == nil {
		return sensitive, nil
	}
	sensitive, bareErr := bare(envelope)
	if bareErr == nil {
		return sensitive, nil
	}
	return nil, fmt.Errorf("%w: wrapped form: %v; bare form: %v", ErrDataFormat, wrappedErr, bareErr)
}

// unwrap decodes standard base64. Envelopes are never large enough for
// streaming to matter.
func unwrap(text []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := unwrapInto(raw, text)
	if err != nil {
		return nil, err
	}
	return raw[:n], nil
}

// unwrapInto decodes text into raw. On failure raw may already hold a
// decoded prefix, so it is zeroed.
func unwrapInto(raw, text []byte) (int, error) {
	n, err := base64.StdEncoding.Decode(raw, text)
	if err != nil {
		secret.Zero(raw)
		return 0, errors.New("not valid base64")
	}
	return n, nil
}

func wrap(raw []byte) []byte {
	text := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(text, raw)
	return text
}

// describeParseError turns a record parse failure into a message that
// is safe to return to the host. JSON syntax errors quote the offending
// plaintext byte, so they are never passed through.
func describeParseError(err error) error {
	if errors.Is(err, record.ErrNotObject) {
		return errors.New("payload is not a JSON object")
	}
	return errors.New("payload is not valid JSON")
}

// referencer computes keyed BLAKE3 envelope references.
type referencer struct {
	key [32]byte
}

var referenceDomain = []byte("enclave.envelope.ref.v1")

func newRandomReferencer() (referencer, error) {
	var r referencer
	if _, err := rand.Read(r.key[:]); err != nil {
		return referencer{}, fmt.Errorf("generating reference key: %w", err)
	}
	return r, nil
}

func (r referencer) reference(envelope []byte) string {
	hasher, err := blake3.NewKeyed(r.key[:])
	if err != nil {
		panic("envelope: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(referenceDomain)
	hasher.Write(envelope)
	return hex.EncodeToString(hasher.Sum(nil)[:8])
}
