// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/bureau-foundation/enclave/lib/secret"
)

func parseString(t *testing.T, text string) (*Sensitive, error) {
	t.Helper()
	plaintext, err := secret.NewFromBytes([]byte(text))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	return Parse(plaintext)
}

func TestParse_OpenSchema(t *testing.T) {
	sensitive, err := parseString(t, `{"heartRate": 110, "temperature": 39.5, "patientId": "p-17", "notes": {"a": 1}}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer sensitive.Close()

	if got, ok := sensitive.Number("heartRate"); !ok || got != 110 {
		t.Errorf("heartRate = %v, %v; want 110, true", got, ok)
	}
	if got, ok := sensitive.Number("temperature"); !ok || got != 39.5 {
		t.Errorf("temperature = %v, %v; want 39.5, true", got, ok)
	}
	if _, ok := sensitive.Number("patientId"); ok {
		t.Error("string field reported as a number")
	}
	if value, ok := sensitive.Field("patientId"); !ok || value != "p-17" {
		t.Errorf("patientId = %v, %v", value, ok)
	}
	if sensitive.Len() != 4 {
		t.Errorf("Len = %d, want 4 (unknown fields kept)", sensitive.Len())
	}
}

func TestParse_OutOfRangeNumbers(t *testing.T) {
	sensitive, err := parseString(t, `{"heartRate": 110, "temperature": 1e400, "notes": {"x": -1e400, "y": [1e999]}}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer sensitive.Close()

	if got, ok := sensitive.Number("heartRate"); !ok || got != 110 {
		t.Errorf("heartRate = %v, %v; want 110, true", got, ok)
	}
	if got, ok := sensitive.Number("temperature"); ok {
		t.Errorf("temperature = %v, want no value for an out-of-range number", got)
	}
	if _, ok := sensitive.Number("notes"); ok {
		t.Error("object field reported as a number")
	}
	if sensitive.Len() != 3 {
		t.Errorf("Len = %d, want 3", sensitive.Len())
	}
}

func TestSensitive_Field(t *testing.T) {
	sensitive, err := parseString(t, `{"count": 12345678901234567890, "flag": true, "tags": ["a"]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer sensitive.Close()

	if value, ok := sensitive.Field("count"); !ok || value != json.Number("12345678901234567890") {
		t.Errorf("count = %#v, %v", value, ok)
	}
	if value, ok := sensitive.Field("flag"); !ok || value != true {
		t.Errorf("flag = %#v, %v", value, ok)
	}
	if value, ok := sensitive.Field("tags"); !ok || len(value.([]any)) != 1 {
		t.Errorf("tags = %#v, %v", value, ok)
	}
	if _, ok := sensitive.Field("missing"); ok {
		t.Error("missing field reported present")
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		notObject bool
	}{
		{name: "array", input: `[1,2]`, notObject: true},
		{name: "string", input: `"hello"`, notObject: true},
		{name: "number", input: `42`, notObject: true},
		{name: "null", input: `null`, notObject: true},
		{name: "truncated", input: `{"heartRate": 1`},
		{name: "garbage", input: "\x00\x01binary"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sensitive, err := parseString(t, test.input)
			if err == nil {
				sensitive.Close()
				t.Fatalf("Parse(%q) should fail", test.input)
			}
			if test.notObject && !errors.Is(err, ErrNotObject) {
				t.Errorf("Parse(%q) error = %v, want ErrNotObject", test.input, err)
			}
		})
	}
}

func TestSensitive_CloseDropsEverything(t *testing.T) {
	sensitive, err := FromFields(map[string]any{"heartRate": 120})
	if err != nil {
		t.Fatalf("FromFields: %v", err)
	}
	if sensitive.PlaintextSize() == 0 {
		t.Fatal("PlaintextSize should be non-zero before Close")
	}

	if err := sensitive.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := sensitive.Number("heartRate"); ok {
		t.Error("field still readable after Close")
	}
	if sensitive.PlaintextSize() != 0 || sensitive.Len() != 0 {
		t.Error("record still holds data after Close")
	}
	if err := sensitive.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestResult_Validate(t *testing.T) {
	valid := Result{RiskScore: 90, Recommendation: MonitorClosely, Confidence: 0.95, ProcessedSecurely: true}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid result rejected: %v", err)
	}

	invalid := []Result{
		{RiskScore: 101, Recommendation: Normal, Confidence: 0.5},
		{RiskScore: -1, Recommendation: Normal, Confidence: 0.5},
		{RiskScore: 50, Recommendation: Normal, Confidence: 1.5},
		{RiskScore: 50, Recommendation: "Panic", Confidence: 0.5},
	}
	for _, result := range invalid {
		if err := result.Validate(); err == nil {
			t.Errorf("Validate(%+v) should fail", result)
		}
	}
}
