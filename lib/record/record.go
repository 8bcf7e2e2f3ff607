// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/enclave/lib/secret"
)

// ErrNotObject is returned when plaintext parses as JSON but is not an
// object.
var ErrNotObject = errors.New("record: plaintext is not a JSON object")

// Sensitive is one decrypted record. It is valid until Close.
//
// Parse indexes the top-level fields without decoding their values:
// each index entry is a slice of the locked plaintext. Field names are
// copied to the heap. A value is decoded, and copied, only when Number
// or Field asks for it.
type Sensitive struct {
	mu        sync.Mutex
	plaintext *secret.Buffer
	fields    map[string]rawValue
}

// rawValue is the undecoded JSON of one field, aliasing the plaintext.
type rawValue []byte

// UnmarshalJSON keeps the slice json.Unmarshal hands over, which points
// into the input rather than a copy of it.
func (v *rawValue) UnmarshalJSON(data []byte) error {
	*v = data
	return nil
}

// Parse takes ownership of plaintext, indexes it as a JSON object, and
// returns the record. On failure plaintext is closed before returning.
// Values are not interpreted, so no field value can make Parse fail.
func Parse(plaintext *secret.Buffer) (*Sensitive, error) {
	var fields map[string]rawValue
	if err := json.Unmarshal(plaintext.Bytes(), &fields); err != nil {
		plaintext.Close()
		var typeError *json.UnmarshalTypeError
		if errors.As(err, &typeError) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("record: %w", err)
	}
	if fields == nil {
		// Literal null.
		plaintext.Close()
		return nil, ErrNotObject
	}
	return &Sensitive{plaintext: plaintext, fields: fields}, nil
}

// FromFields builds a record from already-structured fields. The host
// tooling and tests use it; the pipeline always goes through Parse.
func FromFields(fields map[string]any) (*Sensitive, error) {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("record: encoding fields: %w", err)
	}
	plaintext, err := secret.NewFromBytes(encoded)
	if err != nil {
		return nil, err
	}
	return Parse(plaintext)
}

// Number returns the named field as a float64 if it is present and a
// JSON number that fits in a float64. Strings, booleans, nested values,
// and out-of-range numbers report false.
func (s *Sensitive) Number(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.fields[name]
	if !ok || len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}
	value, err := json.Number(raw).Float64()
	if err != nil {
		return 0, false
	}
	return value, true
}

// Field returns the decoded value of the named field. Numbers come
// back as json.Number.
func (s *Sensitive) Field(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.fields[name]
	if !ok {
		return nil, false
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, false
	}
	return value, true
}

// Len returns the number of top-level fields.
func (s *Sensitive) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.fields)
}

// PlaintextSize returns the size of the decrypted plaintext, or zero
// after Close. Safe to log.
func (s *Sensitive) PlaintextSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plaintext == nil {
		return 0
	}
	return s.plaintext.Len()
}

// Close drops the field index and zeroes the plaintext. Idempotent.
func (s *Sensitive) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.fields)
	s.fields = nil
	if s.plaintext == nil {
		return nil
	}
	err := s.plaintext.Close()
	s.plaintext = nil
	return err
}
