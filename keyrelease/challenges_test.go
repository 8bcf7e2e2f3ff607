// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func challengeAt(id uint64, expires time.Time) pendingChallenge {
	return pendingChallenge{sessionID: id, moduleID: "m", nonce: []byte{byte(id)}, expires: expires}
}

func TestChallengeCacheTakeOnce(t *testing.T) {
	cache := newChallengeCache(4)
	if !cache.Put(challengeAt(1, epoch.Add(time.Minute))) {
		t.Fatal("Put(1) reported a taken id")
	}
	if cache.Put(challengeAt(1, epoch.Add(time.Minute))) {
		t.Error("second Put(1) succeeded")
	}

	challenge, ok := cache.Take(1, epoch)
	if !ok {
		t.Fatal("Take(1) missed")
	}
	if challenge.sessionID != 1 || challenge.moduleID != "m" {
		t.Errorf("Take(1) = %+v", challenge)
	}
	if _, ok := cache.Take(1, epoch); ok {
		t.Error("second Take(1) succeeded")
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d, want 0", cache.Len())
	}
}

func TestChallengeCacheExpiry(t *testing.T) {
	cache := newChallengeCache(4)
	cache.Put(challengeAt(1, epoch.Add(time.Minute)))

	if _, ok := cache.Take(1, epoch.Add(time.Minute+time.Second)); ok {
		t.Error("Take returned an expired challenge")
	}
	if cache.Len() != 0 {
		t.Errorf("expired challenge left in cache: Len = %d", cache.Len())
	}
}

func TestChallengeCacheEvictsOldest(t *testing.T) {
	cache := newChallengeCache(2)
	for id := uint64(1); id <= 3; id++ {
		cache.Put(challengeAt(id, epoch.Add(time.Minute)))
	}
	if cache.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cache.Len())
	}
	if _, ok := cache.Take(1, epoch); ok {
		t.Error("oldest challenge survived eviction")
	}
	for _, id := range []uint64{2, 3} {
		if _, ok := cache.Take(id, epoch); !ok {
			t.Errorf("challenge %d was evicted", id)
		}
	}
}

func TestChallengeCachePrune(t *testing.T) {
	cache := newChallengeCache(8)
	cache.Put(challengeAt(1, epoch.Add(10*time.Second)))
	cache.Put(challengeAt(2, epoch.Add(time.Minute)))
	cache.Put(challengeAt(3, epoch.Add(20*time.Second)))

	if dropped := cache.Prune(epoch.Add(30 * time.Second)); dropped != 2 {
		t.Errorf("Prune dropped %d, want 2", dropped)
	}
	if _, ok := cache.Take(2, epoch.Add(30*time.Second)); !ok {
		t.Error("unexpired challenge was pruned")
	}
}
