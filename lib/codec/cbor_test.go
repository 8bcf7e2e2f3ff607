// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type sampleDocument struct {
	ModuleID    string `cbor:"module_id"`
	Measurement []byte `cbor:"measurement"`
	Timestamp   int64  `cbor:"timestamp"`
	UserData    []byte `cbor:"user_data,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleDocument{
		ModuleID:    "enclave-i-0123",
		Measurement: bytes.Repeat([]byte{0xAB}, 32),
		Timestamp:   1_760_000_000_000,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleDocument
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ModuleID != original.ModuleID || decoded.Timestamp != original.Timestamp {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
	if !bytes.Equal(decoded.Measurement, original.Measurement) {
		t.Errorf("measurement = %x, want %x", decoded.Measurement, original.Measurement)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"zeta": 1, "alpha": 2, "mid": []byte{1, 2}}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	type result struct {
		RiskScore float64 `json:"riskScore"`
		Label     string  `json:"recommendation"`
	}
	original := result{RiskScore: 90, Label: "MonitorClosely"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["recommendation"] != "MonitorClosely" {
		t.Errorf("json tag not used as key: %v", decoded)
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var document sampleDocument
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &document); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestDecoderStream(t *testing.T) {
	var buffer bytes.Buffer
	for _, id := range []string{"a", "b"} {
		data, err := Marshal(sampleDocument{ModuleID: id})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		buffer.Write(data)
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"a", "b"} {
		var got sampleDocument
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.ModuleID != want {
			t.Errorf("ModuleID = %q, want %q", got.ModuleID, want)
		}
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"module_id": "enclave"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"module_id"`) {
		t.Errorf("Diagnose = %q, want it to mention module_id", notation)
	}
}
