// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/enclave/lib/record"
	"github.com/bureau-foundation/enclave/lib/secret"
)

// The functions in this file run on the host side of the channel:
// enclavectl builds requests and reads responses with them, and the
// tests use them to talk to a real pipeline.

// SealRequest encrypts a JSON record for the enclave and returns the
// wrapped envelope.
func (k *KeySet) SealRequest(plaintext []byte) ([]byte, error) {
	blob, err := sealBlob(plaintext, k.keyFor(DirectionRequest), DirectionRequest)
	if err != nil {
		return nil, err
	}
	return wrap(blob), nil
}

// OpenResponse decrypts a wrapped or bare sealed result envelope.
func (k *KeySet) OpenResponse(envelope []byte) (record.Result, error) {
	key := k.keyFor(DirectionResponse)
	plaintext, err := openWrappedOrBare(envelope, key)
	if err != nil {
		return record.Result{}, fmt.Errorf("%w: %v", ErrDataFormat, err)
	}
	defer plaintext.Close()
	return parseResult(plaintext.Bytes())
}

func openWrappedOrBare(envelope []byte, key *secret.Buffer) (*secret.Buffer, error) {
	if blob, err := unwrap(bytes.TrimSpace(envelope)); err == nil {
		if plaintext, err := openBlob(blob, key, DirectionResponse); err == nil {
			return plaintext, nil
		}
	}
	return openBlob(envelope, key, DirectionResponse)
}

// WrapRequest produces a transcode-format request from a JSON record.
func WrapRequest(plaintext []byte) []byte {
	return wrap(plaintext)
}

// UnwrapResult reads a transcode-format result envelope.
func UnwrapResult(envelope []byte) (record.Result, error) {
	raw, err := unwrap(envelope)
	if err != nil {
		return record.Result{}, fmt.Errorf("%w: %v", ErrDataFormat, err)
	}
	defer secret.Zero(raw)
	return parseResult(raw)
}

func parseResult(plaintext []byte) (record.Result, error) {
	var result record.Result
	if err := json.Unmarshal(plaintext, &result); err != nil {
		return record.Result{}, fmt.Errorf("%w: result is not valid JSON", ErrDataFormat)
	}
	return result, nil
}
