// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/enclave/keyrelease"
)

func newLedgerCommand(logger func() *slog.Logger) *cobra.Command {
	var path string
	var limit int
	var format string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recent key release decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ledger, err := keyrelease.OpenLedger(ctx, path, logger())
			if err != nil {
				return err
			}
			defer ledger.Close()

			entries, err := ledger.Recent(ctx, limit)
			if err != nil {
				return err
			}
			return printLedger(cmd.OutOrStdout(), entries, format)
		},
	}
	cmd.Flags().StringVar(&path, "path", "keyauthority.db", "ledger database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of decisions to show")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text|json)")
	return cmd
}

func printLedger(w io.Writer, entries []keyrelease.LedgerEntry, format string) error {
	switch format {
	case "json":
		if entries == nil {
			entries = []keyrelease.LedgerEntry{}
		}
		return printJSON(w, entries)
	case "text":
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No release decisions recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-20s %-8s %-20s %-16s %s\n", "TIME", "DECISION", "MODULE", "MEASUREMENT", "REASON")
	for _, entry := range entries {
		decision := "denied"
		if entry.Granted {
			decision = "granted"
		}
		fmt.Fprintf(w, "%-20s %-8s %-20s %-16s %s\n",
			entry.RecordedAt.UTC().Format(time.DateTime),
			decision,
			truncate(entry.ModuleID, 20),
			truncate(entry.Measurement, 16),
			entry.Reason,
		)
	}
	return nil
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
