// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/enclave/channel"
	"github.com/bureau-foundation/enclave/keyrelease"
	"github.com/bureau-foundation/enclave/lib/secret"
	"github.com/bureau-foundation/enclave/lib/process"
	"github.com/bureau-foundation/enclave/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet("enclave-keyauthority", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the TOML policy file (required)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("enclave-keyauthority %s\n", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authority, ledger, err := buildAuthority(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()
	defer authority.Close()

	listener, err := channel.Listen(cfg.Listen)
	if err != nil {
		return err
	}

	logger.Info("starting enclave-keyauthority",
		"version", version.Info(),
		"listen", cfg.Listen.String(),
		"ledger", cfg.LedgerPath,
	)
	return authority.Serve(ctx, listener)
}

func buildAuthority(ctx context.Context, cfg authorityConfig, logger *slog.Logger) (*keyrelease.Authority, *keyrelease.Ledger, error) {
	identity, err := secret.ReadFromPath(cfg.IdentityPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading authority identity: %w", err)
	}
	defer identity.Close()

	ciphertext, err := os.ReadFile(cfg.BundlePath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading key bundle: %w", err)
	}
	bundle, err := keyrelease.OpenBundle(ciphertext, identity)
	if err != nil {
		return nil, nil, err
	}

	signingKey, err := keyrelease.LoadSigningKey(cfg.SigningKeyPath)
	if err != nil {
		bundle.Close()
		return nil, nil, err
	}

	ledger, err := keyrelease.OpenLedger(ctx, cfg.LedgerPath, logger)
	if err != nil {
		bundle.Close()
		return nil, nil, err
	}

	authority, err := keyrelease.NewAuthority(keyrelease.AuthorityConfig{
		Policy:     cfg.Policy,
		Bundle:     bundle,
		SigningKey: signingKey,
		Ledger:     ledger,
		Logger:     logger,
	})
	if err != nil {
		bundle.Close()
		ledger.Close()
		return nil, nil, err
	}
	return authority, ledger, nil
}
