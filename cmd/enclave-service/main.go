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

	"github.com/bureau-foundation/enclave/enclave"
	"github.com/bureau-foundation/enclave/lib/config"
	"github.com/bureau-foundation/enclave/lib/process"
	"github.com/bureau-foundation/enclave/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath  string
	port        uint32
	portSet     bool
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("enclave-service", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to config file (default: $"+config.ConfigEnvVar+" or built-in defaults)")
	flagSet.Uint32Var(&opts.port, "port", 0, "vsock port, overriding the config file and $"+config.PortEnvVar)
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", extra[0])
	}
	opts.portSet = flagSet.Changed("port")
	return opts, nil
}

// loadConfig resolves the configuration. The port comes from, in
// increasing precedence: the default, the config file, VSOCK_PORT,
// and --port.
func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.portSet {
		if opts.port == 0 {
			return nil, fmt.Errorf("--port must be between 1 and %d", ^uint32(0))
		}
		cfg.Listen.Port = opts.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("enclave-service %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting enclave-service",
		"version", version.Info(),
		"environment", cfg.Environment,
		"codec", cfg.Envelope.Codec,
	)

	sc, err := enclave.Bootstrap(ctx, cfg, enclave.Deps{Logger: logger})
	if err != nil {
		return err
	}
	defer sc.Close()

	return enclave.Run(ctx, sc, logger)
}
