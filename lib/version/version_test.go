// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = savedCommit, savedDirty })

	GitCommit = "abc1234"
	GitDirty = "true"
	info := Info()
	if !strings.HasPrefix(info, Short()+" (abc1234-dirty") {
		t.Errorf("Info() = %q", info)
	}

	GitDirty = "false"
	if strings.Contains(Info(), "-dirty") {
		t.Errorf("clean build reported dirty: %q", Info())
	}
	if !strings.Contains(Full(), "Go: ") {
		t.Errorf("Full() missing toolchain: %q", Full())
	}
}
