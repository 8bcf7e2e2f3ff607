// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFromPath_File(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{name: "plain", content: "AGE-SECRET-KEY-1TEST", expected: "AGE-SECRET-KEY-1TEST"},
		{name: "trailing newline", content: "AGE-SECRET-KEY-1TEST\n", expected: "AGE-SECRET-KEY-1TEST"},
		{name: "surrounding whitespace", content: "  AGE-SECRET-KEY-1TEST \n", expected: "AGE-SECRET-KEY-1TEST"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(tempDir, test.name)
			if err := os.WriteFile(path, []byte(test.content), 0o600); err != nil {
				t.Fatalf("writing test file: %v", err)
			}

			result, err := ReadFromPath(path)
			if err != nil {
				t.Fatalf("ReadFromPath() error: %v", err)
			}
			defer result.Close()
			if result.String() != test.expected {
				t.Errorf("ReadFromPath() = %q, want %q", result.String(), test.expected)
			}
		})
	}
}

func TestReadFromPath_Errors(t *testing.T) {
	tempDir := t.TempDir()
	blank := filepath.Join(tempDir, "blank")
	if err := os.WriteFile(blank, []byte(" \n\t"), 0o600); err != nil {
		t.Fatalf("writing test file: %v", err)
	}

	for _, path := range []string{filepath.Join(tempDir, "missing"), blank} {
		if _, err := ReadFromPath(path); err == nil {
			t.Errorf("ReadFromPath(%q) should fail", path)
		}
	}
}
