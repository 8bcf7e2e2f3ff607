// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import "errors"

var (
	// ErrStartup means the guest endpoint could not be bound. The
	// service cannot do anything useful without it.
	ErrStartup = errors.New("channel: cannot bind listener")

	// ErrTransport covers failures of an individual connection: reads
	// and writes that fail or time out, and peers that hang up halfway
	// through a frame.
	ErrTransport = errors.New("channel: transport failure")

	// ErrPeerClosed means the peer connected and closed without
	// sending anything. No response is owed.
	ErrPeerClosed = errors.New("channel: peer sent no data")

	// ErrMalformed means bytes arrived but do not form an acceptable
	// request: a bad frame header, a payload over the size limit, or a
	// legacy read that filled its buffer.
	ErrMalformed = errors.New("channel: malformed request")
)
