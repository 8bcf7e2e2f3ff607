// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enclave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/enclave/channel"
	"github.com/bureau-foundation/enclave/envelope"
	"github.com/bureau-foundation/enclave/inference"
	"github.com/bureau-foundation/enclave/keyrelease"
	"github.com/bureau-foundation/enclave/lib/clock"
	"github.com/bureau-foundation/enclave/lib/config"
)

// Releaser obtains key material from a key authority.
// *keyrelease.Client implements it.
type Releaser interface {
	Release(ctx context.Context, options keyrelease.ReleaseOptions) (*keyrelease.Released, error)
}

// Deps are the collaborators Bootstrap uses. The zero value is the
// production wiring.
type Deps struct {
	// Releaser, when nil, is a client dialed to
	// cfg.KeyRelease.Authority for the duration of Bootstrap.
	Releaser Releaser

	// Attester, when nil, is a keyrelease.DevAttester for the image
	// measurement.
	Attester keyrelease.Attester

	// Measurement, when zero, is measured from the running executable.
	Measurement keyrelease.Measurement

	Clock  clock.Clock
	Logger *slog.Logger
}

// ServiceContext is the state every request reads. It is built once
// by Bootstrap and never modified.
type ServiceContext struct {
	config      *config.Config
	codec       envelope.Codec
	keys        *envelope.KeySet
	engine      *inference.Engine
	modelStatus inference.Status
	measurement keyrelease.Measurement
	startedAt   time.Time
}

// Codec returns the envelope codec.
func (s *ServiceContext) Codec() envelope.Codec { return s.codec }

// Engine returns the inference engine.
func (s *ServiceContext) Engine() *inference.Engine { return s.engine }

// ModelStatus reports how the model was loaded.
func (s *ServiceContext) ModelStatus() inference.Status { return s.modelStatus }

// Measurement returns the image measurement presented at key release.
func (s *ServiceContext) Measurement() keyrelease.Measurement { return s.measurement }

// Config returns the configuration the context was built from. Callers
// must not modify it.
func (s *ServiceContext) Config() *config.Config { return s.config }

// StartedAt returns when Bootstrap completed.
func (s *ServiceContext) StartedAt() time.Time { return s.startedAt }

// Close releases the envelope keys. Serving must have stopped.
func (s *ServiceContext) Close() error {
	if s.keys != nil {
		return s.keys.Close()
	}
	return nil
}

// Bootstrap builds the service context for cfg, which must already be
// validated. Every error wraps channel.ErrStartup. A sealed-codec
// service whose key release fails does not start: there is no
// fallback to the transcode codec.
func Bootstrap(ctx context.Context, cfg *config.Config, deps Deps) (*ServiceContext, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}

	measurement := deps.Measurement
	if measurement == (keyrelease.Measurement{}) {
		var err error
		if measurement, err = keyrelease.MeasureSelf(); err != nil {
			return nil, fmt.Errorf("%w: %w", channel.ErrStartup, err)
		}
	}
	logger.Info("enclave image measured", "measurement", measurement.String())

	sc := &ServiceContext{config: cfg, measurement: measurement}

	var source inference.Source
	switch cfg.Envelope.Codec {
	case config.CodecTranscode:
		codec, err := envelope.NewTranscodeCodec()
		if err != nil {
			return nil, fmt.Errorf("%w: building transcode codec: %w", channel.ErrStartup, err)
		}
		sc.codec = codec
		logger.Warn("transcode codec in use: envelopes are not encrypted", "environment", cfg.Environment)

	case config.CodecSealed:
		released, err := release(ctx, cfg, deps, measurement, clk, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", channel.ErrStartup, err)
		}
		defer released.Close()

		// NewKeySet takes ownership of the master key.
		keys, err := envelope.NewKeySet(released.EnvelopeKey)
		released.EnvelopeKey = nil
		if err != nil {
			return nil, fmt.Errorf("%w: deriving envelope keys: %w", channel.ErrStartup, err)
		}
		sc.keys = keys
		sc.codec = envelope.NewSealedCodec(keys)
		source = inference.Source{Path: cfg.Model.Path, Identity: released.ModelIdentity}

	default:
		return nil, fmt.Errorf("%w: unknown envelope codec %q", channel.ErrStartup, cfg.Envelope.Codec)
	}

	if cfg.Model.Digest != "" {
		digest, err := inference.ParseDigest(cfg.Model.Digest)
		if err != nil {
			sc.Close()
			return nil, fmt.Errorf("%w: %w", channel.ErrStartup, err)
		}
		source.ExpectedDigest = digest
	}

	model, status := inference.LoadModel(source)
	sc.engine = inference.NewEngine(model)
	sc.modelStatus = status
	if status.Ready {
		logger.Info("model loaded",
			"name", status.Name,
			"version", status.Version,
			"digest", status.Digest,
		)
	} else {
		logger.Warn("model not loaded, using placeholder",
			"name", status.Name,
			"version", status.Version,
			"reason", status.Reason,
		)
	}

	sc.startedAt = clk.Now()
	return sc, nil
}

func release(ctx context.Context, cfg *config.Config, deps Deps, measurement keyrelease.Measurement, clk clock.Clock, logger *slog.Logger) (*keyrelease.Released, error) {
	authorityKey, err := keyrelease.LoadVerifyingKey(cfg.KeyRelease.AuthorityKey)
	if err != nil {
		return nil, fmt.Errorf("loading authority key: %w", err)
	}

	releaser := deps.Releaser
	if releaser == nil {
		client, err := keyrelease.Dial(cfg.KeyRelease.Authority)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		releaser = client
	}

	attester := deps.Attester
	if attester == nil {
		attester = keyrelease.DevAttester{
			ModuleID:    cfg.KeyRelease.ModuleID,
			Measurement: measurement,
			Clock:       clk,
		}
	}

	backoff, timeout := cfg.KeyRelease.Durations()
	logger.Info("requesting key release", "authority", cfg.KeyRelease.Authority, "module_id", cfg.KeyRelease.ModuleID)
	released, err := releaser.Release(ctx, keyrelease.ReleaseOptions{
		ModuleID:     cfg.KeyRelease.ModuleID,
		Attester:     attester,
		AuthorityKey: authorityKey,
		Attempts:     cfg.KeyRelease.Attempts,
		Backoff:      backoff,
		Timeout:      timeout,
		Clock:        clk,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("key material released", "model_identity", released.ModelIdentity != nil)
	return released, nil
}
