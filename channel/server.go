// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/enclave/lib/clock"
	"github.com/bureau-foundation/enclave/lib/netutil"
)

// Handler serves one accepted connection. ServeConn owns conn and must
// close it before returning.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn)

// ServeConn calls f(ctx, conn).
func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) { f(ctx, conn) }

// Server runs the accept loop for one listener.
type Server struct {
	Handler Handler
	Logger  *slog.Logger

	// Workers caps concurrently handled connections. Zero or one
	// handles each connection inline before the next Accept.
	Workers int

	// Clock paces retries after transient accept errors. Nil means the
	// real clock.
	Clock clock.Clock
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Serve accepts connections on listener until ctx is cancelled or the
// listener fails permanently. Cancellation closes the listener; Serve
// then waits for in-flight connections and returns nil. Transient
// accept errors are logged and retried with backoff. Serve always
// closes listener before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.Real()
	}

	stop := make(chan struct{})
	defer close(stop)
	defer listener.Close()
	go func() {
		select {
		case <-ctx.Done():
			listener.Close()
		case <-stop:
		}
	}()

	var (
		active  sync.WaitGroup
		slots   chan struct{}
		backoff time.Duration
	)
	if s.Workers > 1 {
		slots = make(chan struct{}, s.Workers)
	}
	defer active.Wait()

	for {
		if slots != nil {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if slots != nil {
				<-slots
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if netutil.IsRetryableAccept(err) || netutil.IsTimeout(err) {
				backoff = min(max(2*backoff, minAcceptBackoff), maxAcceptBackoff)
				logger.Warn("accept failed, retrying", "error", err, "backoff", backoff)
				select {
				case <-clk.After(backoff):
				case <-ctx.Done():
					return nil
				}
				continue
			}
			return fmt.Errorf("%w: accept: %w", ErrTransport, err)
		}
		backoff = 0

		if slots == nil {
			s.dispatch(ctx, logger, conn)
			continue
		}

		active.Add(1)
		go func() {
			defer func() {
				<-slots
				active.Done()
			}()
			s.dispatch(ctx, logger, conn)
		}()
	}
}

// dispatch runs the handler, keeping the accept loop alive if it
// panics.
func (s *Server) dispatch(ctx context.Context, logger *slog.Logger, conn net.Conn) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("connection handler panicked", "panic", fmt.Sprint(recovered))
			conn.Close()
		}
	}()
	s.Handler.ServeConn(ctx, conn)
}
