// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/enclave/lib/testutil"
)

func listenUnix(t *testing.T) (net.Listener, string) {
	t.Helper()
	path := filepath.Join(testutil.SocketDir(t), "enclave.sock")
	listener, err := Listen(ListenConfig{Network: "unix", Address: path})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return listener, path
}

func dialUnix(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := Dial(context.Background(), DialConfig{Network: "unix", Address: path})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// serve runs server.Serve in the background and returns a function
// that cancels it and waits for it to return.
func serve(t *testing.T, server *Server, listener net.Listener) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()
	stopped := false
	var result error
	stop := func() error {
		if !stopped {
			stopped = true
			cancel()
			result = testutil.RequireReceive(t, done, 5*time.Second, "Serve did not return")
		}
		return result
	}
	t.Cleanup(func() { stop() })
	return stop
}

func TestServer_EchoOverUnixSocket(t *testing.T) {
	listener, path := listenUnix(t)
	framer, _ := NewFramer(FramingFrame, Limits{})

	server := &Server{
		Logger: testutil.Logger(),
		Handler: HandlerFunc(func(ctx context.Context, conn net.Conn) {
			defer conn.Close()
			request, err := framer.ReadRequest(conn)
			if err != nil {
				return
			}
			framer.WriteResponse(conn, append([]byte("echo:"), request...), false)
		}),
	}
	serve(t, server, listener)

	for _, message := range []string{"first", "second"} {
		reply, err := Call(context.Background(), dialUnix(t, path), FramingFrame, Limits{}, []byte(message))
		if err != nil {
			t.Fatalf("Call(%q): %v", message, err)
		}
		if got, want := string(reply.Payload), "echo:"+message; got != want {
			t.Errorf("reply = %q, want %q", got, want)
		}
		if reply.Failed {
			t.Errorf("reply marked failed")
		}
	}
}

func TestServer_SerialHandlesOneConnectionAtATime(t *testing.T) {
	listener, path := listenUnix(t)

	entered := make(chan int, 2)
	release := make(chan struct{})
	count := 0
	server := &Server{
		Logger: testutil.Logger(),
		Handler: HandlerFunc(func(ctx context.Context, conn net.Conn) {
			defer conn.Close()
			count++
			entered <- count
			if count == 1 {
				<-release
			}
		}),
	}
	serve(t, server, listener)

	dialUnix(t, path)
	if got := testutil.RequireReceive(t, entered, 5*time.Second, "first connection not handled"); got != 1 {
		t.Fatalf("first handler = %d, want 1", got)
	}

	dialUnix(t, path)
	select {
	case <-entered:
		t.Fatal("second connection handled while the first was still in progress")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	if got := testutil.RequireReceive(t, entered, 5*time.Second, "second connection not handled"); got != 2 {
		t.Fatalf("second handler = %d, want 2", got)
	}
}

func TestServer_WorkerPoolRunsConcurrently(t *testing.T) {
	listener, path := listenUnix(t)

	entered := make(chan struct{}, 3)
	release := make(chan struct{})
	server := &Server{
		Logger:  testutil.Logger(),
		Workers: 2,
		Handler: HandlerFunc(func(ctx context.Context, conn net.Conn) {
			defer conn.Close()
			entered <- struct{}{}
			<-release
		}),
	}
	stop := serve(t, server, listener)

	dialUnix(t, path)
	dialUnix(t, path)
	testutil.RequireReceive(t, entered, 5*time.Second, "first worker not started")
	testutil.RequireReceive(t, entered, 5*time.Second, "second worker not started")

	// A third connection waits for a free slot.
	dialUnix(t, path)
	select {
	case <-entered:
		t.Fatal("third connection handled with both workers busy")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	testutil.RequireReceive(t, entered, 5*time.Second, "third connection not handled after release")
	if err := stop(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServer_SurvivesHandlerPanic(t *testing.T) {
	listener, path := listenUnix(t)

	handled := make(chan struct{}, 1)
	calls := 0
	server := &Server{
		Logger: testutil.Logger(),
		Handler: HandlerFunc(func(ctx context.Context, conn net.Conn) {
			calls++
			if calls == 1 {
				panic("boom")
			}
			conn.Close()
			handled <- struct{}{}
		}),
	}
	serve(t, server, listener)

	first := dialUnix(t, path)
	// The panicking handler's connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := first.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("read after panic = %v, want EOF", err)
	}

	dialUnix(t, path)
	testutil.RequireReceive(t, handled, 5*time.Second, "server stopped accepting after a panic")
}

func TestServer_CancelReturnsNilAndClosesListener(t *testing.T) {
	listener, path := listenUnix(t)
	server := &Server{
		Logger:  testutil.Logger(),
		Handler: HandlerFunc(func(ctx context.Context, conn net.Conn) { conn.Close() }),
	}
	stop := serve(t, server, listener)
	if err := stop(); err != nil {
		t.Fatalf("Serve returned %v, want nil", err)
	}
	if _, err := net.Dial("unix", path); err == nil {
		t.Fatal("dial succeeded after Serve returned")
	}
}

func TestListen_RemovesStaleSocket(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "stale.sock")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	listener, err := Listen(ListenConfig{Network: "unix", Address: path})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	listener.Close()
}

func TestListen_StartupErrors(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()

	tests := []struct {
		name   string
		config ListenConfig
	}{
		{"unknown network", ListenConfig{Network: "serial"}},
		{"address in use", ListenConfig{Network: "tcp", Address: occupied.Addr().String()}},
		{"unix path in missing directory", ListenConfig{Network: "unix", Address: "/nonexistent-enclave-dir/x.sock"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			listener, err := Listen(test.config)
			if err == nil {
				listener.Close()
				t.Fatal("Listen succeeded, want error")
			}
			if !errors.Is(err, ErrStartup) {
				t.Errorf("error = %v, want ErrStartup", err)
			}
		})
	}
}

func TestListenConfig_String(t *testing.T) {
	if got := (ListenConfig{Network: "vsock", Port: 5000}).String(); got != "vsock:5000" {
		t.Errorf("String() = %q, want vsock:5000", got)
	}
	if got := (ListenConfig{Network: "unix", Address: "/run/e.sock"}).String(); got != "unix:/run/e.sock" {
		t.Errorf("String() = %q, want unix:/run/e.sock", got)
	}
}
