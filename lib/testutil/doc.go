// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test helpers shared by the enclave packages:
// bounded channel waits that fail instead of hanging, short socket
// directories for unix-domain listeners, and a quiet logger.
package testutil
