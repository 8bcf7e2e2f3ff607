// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"container/list"
	"sync"
	"time"
)

// pendingChallenge is an issued, unanswered challenge.
type pendingChallenge struct {
	sessionID uint64
	moduleID  string
	nonce     []byte
	expires   time.Time
}

// challengeCache holds pending challenges, evicting the least recently
// issued once full. Take removes an entry, so each nonce can be
// answered at most once.
type challengeCache struct {
	mu       sync.Mutex
	capacity int
	queue    *list.List // back of the queue is the oldest
	items    map[uint64]*list.Element
}

func newChallengeCache(capacity int) *challengeCache {
	return &challengeCache{
		capacity: capacity,
		queue:    list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

// Put stores challenge and reports whether its session ID was free.
func (c *challengeCache) Put(challenge pendingChallenge) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, taken := c.items[challenge.sessionID]; taken {
		return false
	}
	c.items[challenge.sessionID] = c.queue.PushFront(challenge)

	if c.queue.Len() > c.capacity {
		oldest := c.queue.Back()
		delete(c.items, oldest.Value.(pendingChallenge).sessionID)
		c.queue.Remove(oldest)
	}
	return true
}

// Take removes and returns the challenge for sessionID if it exists
// and has not expired at now.
func (c *challengeCache) Take(sessionID uint64, now time.Time) (pendingChallenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[sessionID]
	if !ok {
		return pendingChallenge{}, false
	}
	c.queue.Remove(element)
	delete(c.items, sessionID)

	challenge := element.Value.(pendingChallenge)
	if now.After(challenge.expires) {
		return pendingChallenge{}, false
	}
	return challenge, true
}

// Prune drops expired challenges and returns how many were dropped.
func (c *challengeCache) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for element := c.queue.Back(); element != nil; {
		previous := element.Prev()
		challenge := element.Value.(pendingChallenge)
		if now.After(challenge.expires) {
			c.queue.Remove(element)
			delete(c.items, challenge.sessionID)
			dropped++
		}
		element = previous
	}
	return dropped
}

// Len returns the number of pending challenges.
func (c *challengeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}
