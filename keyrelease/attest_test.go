// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/enclave/lib/clock"
	"github.com/bureau-foundation/enclave/lib/codec"
)

func TestMeasureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	content := []byte("enclave image")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := MeasureFile(path)
	if err != nil {
		t.Fatalf("MeasureFile: %v", err)
	}
	want := blake3.Sum256(content)
	if got != Measurement(want) {
		t.Errorf("MeasureFile = %s, want %x", got, want)
	}

	if _, err := MeasureFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("MeasureFile succeeded on a missing file")
	}
}

func TestParseMeasurement(t *testing.T) {
	var m Measurement
	for i := range m {
		m[i] = byte(i)
	}
	parsed, err := ParseMeasurement(m.String())
	if err != nil {
		t.Fatalf("ParseMeasurement: %v", err)
	}
	if parsed != m {
		t.Errorf("ParseMeasurement = %s, want %s", parsed, m)
	}

	for _, bad := range []string{"", "zz", strings.Repeat("ab", 31), strings.Repeat("ab", 33)} {
		if _, err := ParseMeasurement(bad); err == nil {
			t.Errorf("ParseMeasurement(%q) succeeded", bad)
		}
	}
}

func TestDevAttester(t *testing.T) {
	measurement := Measurement{1, 2, 3}
	attester := DevAttester{ModuleID: "enclave-service", Measurement: measurement, Clock: clock.Fake(epoch)}
	nonce := bytes.Repeat([]byte{9}, NonceSize)
	publicKey := generateECDH(t).PublicKey().Bytes()

	data, err := attester.Attest(context.Background(), nonce, publicKey)
	if err != nil {
		t.Fatalf("Attest: %v", err)
	}
	document, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if document.ModuleID != "enclave-service" {
		t.Errorf("ModuleID = %q", document.ModuleID)
	}
	if document.MeasurementValue() != measurement {
		t.Errorf("measurement = %s, want %s", document.MeasurementValue(), measurement)
	}
	if !bytes.Equal(document.Nonce, nonce) || !bytes.Equal(document.PublicKey, publicKey) {
		t.Error("nonce or public key not carried through")
	}
	if document.Timestamp != epoch.Unix() {
		t.Errorf("Timestamp = %d, want %d", document.Timestamp, epoch.Unix())
	}
}

func TestParseDocumentRejects(t *testing.T) {
	valid := Document{
		ModuleID:    "m",
		Measurement: make([]byte, 32),
		PublicKey:   []byte{4},
		Nonce:       make([]byte, NonceSize),
	}
	tests := []struct {
		name   string
		mutate func(*Document)
	}{
		{"no module", func(d *Document) { d.ModuleID = "" }},
		{"short measurement", func(d *Document) { d.Measurement = d.Measurement[:31] }},
		{"short nonce", func(d *Document) { d.Nonce = d.Nonce[:16] }},
		{"no public key", func(d *Document) { d.PublicKey = nil }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			document := valid
			test.mutate(&document)
			data, err := codec.Marshal(document)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := ParseDocument(data); err == nil {
				t.Error("ParseDocument accepted an invalid document")
			}
		})
	}

	if _, err := ParseDocument([]byte{0xff, 0x00}); err == nil {
		t.Error("ParseDocument accepted garbage")
	}
}
