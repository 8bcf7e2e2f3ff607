// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enclave

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/enclave/channel"
	"github.com/bureau-foundation/enclave/pipeline"
)

// Run binds the configured listener and serves requests until ctx is
// cancelled. A listener that cannot be bound is an ErrStartup error;
// cancellation returns nil.
func Run(ctx context.Context, sc *ServiceContext, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	listen := sc.config.Listen

	framing, err := channel.ParseFraming(listen.Framing)
	if err != nil {
		return fmt.Errorf("%w: %w", channel.ErrStartup, err)
	}
	framer, err := channel.NewFramer(framing, channel.Limits{
		MaxPayload:   listen.MaxPayload,
		LegacyBuffer: listen.LegacyBuffer,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", channel.ErrStartup, err)
	}
	read, write := listen.Timeouts()
	handler := pipeline.New(sc, framer, logger, pipeline.Timeouts{Read: read, Write: write})

	endpoint := channel.ListenConfig{
		Network: listen.Network,
		Port:    listen.Port,
		Address: listen.Address,
		Backlog: listen.Backlog,
	}
	listener, err := channel.Listen(endpoint)
	if err != nil {
		return err
	}
	logger.Info("enclave service listening",
		"endpoint", endpoint.String(),
		"port", listen.Port,
		"framing", string(framing),
		"codec", sc.codec.Name(),
		"workers", listen.Workers,
	)

	server := &channel.Server{
		Handler: handler,
		Logger:  logger,
		Workers: listen.Workers,
	}
	if err := server.Serve(ctx, listener); err != nil {
		return err
	}
	logger.Info("enclave service stopped")
	return nil
}
