// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bureau-foundation/enclave/lib/process"
	"github.com/bureau-foundation/enclave/lib/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		process.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "enclavectl",
		Short:         "Operate an enclave service from the host",
		Long:          "Generates and seals key material and models, builds request envelopes, and talks to a running enclave.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Info(),
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug detail to stderr")

	logger := func() *slog.Logger {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		return newLogger(os.Stderr, level)
	}

	root.AddCommand(
		newKeygenCommand(),
		newMeasureCommand(),
		newSealModelCommand(),
		newSealCommand(),
		newOpenCommand(),
		newSendCommand(logger),
		newLedgerCommand(logger),
		newVersionCommand(),
	)
	return root
}

// newLogger writes text to a terminal and JSON elsewhere.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "enclavectl %s\n", version.Full())
		},
	}
}
