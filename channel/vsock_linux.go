// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// VsockAddr is an AF_VSOCK address.
type VsockAddr struct {
	CID  uint32
	Port uint32
}

func (a *VsockAddr) Network() string { return "vsock" }

func (a *VsockAddr) String() string { return fmt.Sprintf("vm(%d):%d", a.CID, a.Port) }

// vsockListener accepts on a non-blocking AF_VSOCK socket registered
// with the runtime poller through os.File. net.FileListener rejects
// address families it does not know, so Accept is driven through
// syscall.RawConn instead.
type vsockListener struct {
	file *os.File
	addr *VsockAddr
}

func listenVsock(port uint32, backlog int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrVM{CID: unix.VMADDR_CID_ANY, Port: port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	addr := &VsockAddr{CID: unix.VMADDR_CID_ANY, Port: port}
	if sockaddr, err := unix.Getsockname(fd); err == nil {
		if vm, ok := sockaddr.(*unix.SockaddrVM); ok {
			addr = &VsockAddr{CID: vm.CID, Port: vm.Port}
		}
	}

	return &vsockListener{
		file: os.NewFile(uintptr(fd), "vsock-listener"),
		addr: addr,
	}, nil
}

// dialVsock connects to cid:port. The connect runs on a blocking
// descriptor in a goroutine so ctx can abandon it; the descriptor is
// switched to non-blocking once connected.
func dialVsock(ctx context.Context, cid, port uint32) (net.Conn, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	connected := make(chan error, 1)
	go func() {
		connected <- unix.Connect(fd, &unix.SockaddrVM{CID: cid, Port: port})
	}()
	select {
	case err = <-connected:
	case <-ctx.Done():
		unix.Shutdown(fd, unix.SHUT_RDWR)
		<-connected
		unix.Close(fd)
		return nil, ctx.Err()
	}
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connect vm(%d):%d: %w", cid, port, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}

	local := &VsockAddr{}
	if sockaddr, err := unix.Getsockname(fd); err == nil {
		if vm, ok := sockaddr.(*unix.SockaddrVM); ok {
			local.CID, local.Port = vm.CID, vm.Port
		}
	}
	return &vsockConn{
		file:   os.NewFile(uintptr(fd), "vsock-conn"),
		local:  local,
		remote: &VsockAddr{CID: cid, Port: port},
	}, nil
}

func (l *vsockListener) Accept() (net.Conn, error) {
	raw, err := l.file.SyscallConn()
	if err != nil {
		return nil, closedAsNet(err)
	}

	var (
		connFD    int
		peer      unix.Sockaddr
		acceptErr error
	)
	controlErr := raw.Read(func(fd uintptr) bool {
		connFD, peer, acceptErr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		return !errors.Is(acceptErr, unix.EAGAIN)
	})
	if controlErr != nil {
		return nil, closedAsNet(controlErr)
	}
	if acceptErr != nil {
		return nil, acceptErr
	}

	remote := &VsockAddr{}
	if vm, ok := peer.(*unix.SockaddrVM); ok {
		remote.CID, remote.Port = vm.CID, vm.Port
	}
	return &vsockConn{
		file:   os.NewFile(uintptr(connFD), "vsock-conn"),
		local:  l.addr,
		remote: remote,
	}, nil
}

func (l *vsockListener) Close() error { return closedAsNet(l.file.Close()) }

func (l *vsockListener) Addr() net.Addr { return l.addr }

// vsockConn is a connected AF_VSOCK stream. Deadlines work because the
// descriptor is non-blocking and owned by the runtime poller.
type vsockConn struct {
	file   *os.File
	local  *VsockAddr
	remote *VsockAddr
}

func (c *vsockConn) Read(b []byte) (int, error) {
	n, err := c.file.Read(b)
	return n, closedAsNet(err)
}

func (c *vsockConn) Write(b []byte) (int, error) {
	n, err := c.file.Write(b)
	return n, closedAsNet(err)
}

func (c *vsockConn) Close() error { return closedAsNet(c.file.Close()) }

func (c *vsockConn) LocalAddr() net.Addr  { return c.local }
func (c *vsockConn) RemoteAddr() net.Addr { return c.remote }

func (c *vsockConn) SetDeadline(t time.Time) error      { return c.file.SetDeadline(t) }
func (c *vsockConn) SetReadDeadline(t time.Time) error  { return c.file.SetReadDeadline(t) }
func (c *vsockConn) SetWriteDeadline(t time.Time) error { return c.file.SetWriteDeadline(t) }

// closedAsNet maps os.ErrClosed to net.ErrClosed so callers can treat
// vsock the same as the net package's own listeners.
func closedAsNet(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return net.ErrClosed
	}
	return err
}
