// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bureau-foundation/enclave/lib/record"
	"github.com/bureau-foundation/enclave/lib/secret"
)

// TranscodeCodec is the wire-compatible development codec: base64(JSON)
// requests with a bare-JSON fallback, base64(JSON) responses.
//
// The envelope bytes are plaintext-equivalent, so Decode zeroes the
// envelope slice it was given once the record holds its own copy.
type TranscodeCodec struct {
	references referencer
}

// NewTranscodeCodec returns a transcode codec. References are keyed
// with a random per-process key, so they cannot be used to test guesses
// about a record's contents.
func NewTranscodeCodec() (*TranscodeCodec, error) {
	references, err := newRandomReferencer()
	if err != nil {
		return nil, err
	}
	return &TranscodeCodec{references: references}, nil
}

// Name implements Codec.
func (c *TranscodeCodec) Name() string { return "transcode" }

// Reference implements Codec.
func (c *TranscodeCodec) Reference(envelope []byte) string {
	return c.references.reference(envelope)
}

// Decode implements Codec.
func (c *TranscodeCodec) Decode(envelope []byte) (*record.Sensitive, error) {
	defer secret.Zero(envelope)
	return decodeForms(envelope, c.decodeWrapped, c.decodeBare)
}

func (c *TranscodeCodec) decodeWrapped(text []byte) (*record.Sensitive, error) {
	raw, err := unwrap(text)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("wrapped payload is empty")
	}
	// NewFromBytes zeroes raw.
	plaintext, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, err
	}
	sensitive, err := record.Parse(plaintext)
	if err != nil {
		return nil, describeParseError(err)
	}
	return sensitive, nil
}

func (c *TranscodeCodec) decodeBare(text []byte) (*record.Sensitive, error) {
	copied := make([]byte, len(text))
	copy(copied, text)
	plaintext, err := secret.NewFromBytes(copied)
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
func (c *TranscodeCodec) Encode(result record.Result) ([]byte, error) {
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	plaintext, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	defer secret.Zero(plaintext)
	return wrap(plaintext), nil
}
