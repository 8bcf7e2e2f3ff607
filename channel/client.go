// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// DialConfig describes the enclave endpoint as seen from the host.
type DialConfig struct {
	// Network is "vsock", "tcp", or "unix".
	Network string

	// CID is the enclave's vsock context ID.
	CID uint32

	// Port is the vsock port.
	Port uint32

	// Address is the host:port for tcp or the socket path for unix.
	Address string
}

// Dial connects to the enclave endpoint.
func Dial(ctx context.Context, cfg DialConfig) (net.Conn, error) {
	switch cfg.Network {
	case "vsock":
		return dialVsock(ctx, cfg.CID, cfg.Port)
	case "tcp", "unix":
		var dialer net.Dialer
		return dialer.DialContext(ctx, cfg.Network, cfg.Address)
	}
	return nil, fmt.Errorf("unknown network %q", cfg.Network)
}

// Reply is a response read back by Call.
type Reply struct {
	Payload []byte

	// Failed is set when a framed response carries FlagError. Legacy
	// responses never set it; the payload itself says.
	Failed bool
}

// Call sends payload as one request on conn and reads the response.
// The deadline of ctx, if any, bounds the whole exchange. Call does not
// close conn.
func Call(ctx context.Context, conn net.Conn, framing Framing, limits Limits, payload []byte) (Reply, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	if limits.MaxPayload <= 0 {
		limits.MaxPayload = DefaultMaxPayload
	}

	switch framing {
	case FramingFrame, FramingAuto, "":
		// An auto server answers frames in kind.
		if err := WriteFrame(conn, 0, payload); err != nil {
			return Reply{}, err
		}
		header, response, err := ReadFrame(conn, limits.MaxPayload)
		if err != nil {
			return Reply{}, fmt.Errorf("reading response: %w", err)
		}
		if !header.IsResponse() {
			return Reply{}, fmt.Errorf("%w: response frame lacks the response flag", ErrMalformed)
		}
		return Reply{Payload: response, Failed: header.IsError()}, nil

	case FramingLegacy:
		if _, err := conn.Write(payload); err != nil {
			return Reply{}, fmt.Errorf("%w: writing request: %w", ErrTransport, err)
		}
		response, err := io.ReadAll(io.LimitReader(conn, int64(limits.MaxPayload)+1))
		if err != nil {
			return Reply{}, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
		}
		if len(response) > limits.MaxPayload {
			return Reply{}, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformed, limits.MaxPayload)
		}
		if len(response) == 0 {
			return Reply{}, ErrPeerClosed
		}
		return Reply{Payload: response}, nil
	}
	return Reply{}, fmt.Errorf("unknown framing %q", framing)
}
