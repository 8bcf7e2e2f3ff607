// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package channel

import (
	"context"
	"errors"
	"net"
)

func listenVsock(port uint32, backlog int) (net.Listener, error) {
	return nil, errors.New("AF_VSOCK requires linux")
}

func dialVsock(ctx context.Context, cid, port uint32) (net.Conn, error) {
	return nil, errors.New("AF_VSOCK requires linux")
}
