// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// DefaultPort is the vsock port the service binds when neither
// configuration nor VSOCK_PORT names one.
const DefaultPort = 5000

// DefaultBacklog is the pending-connection queue length for vsock.
const DefaultBacklog = 10

// ListenConfig describes the guest endpoint.
type ListenConfig struct {
	// Network is "vsock", "tcp", or "unix".
	Network string

	// Port is the vsock port. Ignored for other networks.
	Port uint32

	// Address is the host:port for tcp or the socket path for unix.
	Address string

	// Backlog is the vsock listen queue length. Zero means
	// DefaultBacklog.
	Backlog int
}

// String renders the endpoint for logs.
func (c ListenConfig) String() string {
	if c.Network == "vsock" {
		return "vsock:" + strconv.FormatUint(uint64(c.Port), 10)
	}
	return c.Network + ":" + c.Address
}

// Listen binds the endpoint described by cfg. Every failure wraps
// ErrStartup.
//
// For unix, any stale socket file at the path is removed first, and the
// returned listener unlinks the path when closed.
func Listen(cfg ListenConfig) (net.Listener, error) {
	switch cfg.Network {
	case "vsock":
		backlog := cfg.Backlog
		if backlog <= 0 {
			backlog = DefaultBacklog
		}
		listener, err := listenVsock(cfg.Port, backlog)
		if err != nil {
			return nil, fmt.Errorf("%w: vsock port %d: %w", ErrStartup, cfg.Port, err)
		}
		return listener, nil

	case "tcp":
		listener, err := net.Listen("tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStartup, err)
		}
		return listener, nil

	case "unix":
		if err := os.Remove(cfg.Address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: removing stale socket %s: %w", ErrStartup, cfg.Address, err)
		}
		listener, err := net.Listen("unix", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStartup, err)
		}
		return listener, nil
	}
	return nil, fmt.Errorf("%w: unknown network %q", ErrStartup, cfg.Network)
}
