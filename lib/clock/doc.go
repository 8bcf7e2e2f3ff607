// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source used by key release.
//
// The enclave's key-release retry loop waits with [Clock.After], and the
// key authority stamps and expires attestation challenges with
// [Clock.Now]. Production code passes [Real]; tests pass [Fake] and move
// time with [FakeClock.Advance]. [FakeClock.WaitForTimers] blocks until
// a goroutine has registered its wait, so a test can advance time
// without racing the retry loop:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go client.Release(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(2 * time.Second)
package clock
