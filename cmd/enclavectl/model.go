// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/enclave/inference"
	"github.com/bureau-foundation/enclave/lib/sealed"
)

func newSealModelCommand() *cobra.Command {
	var recipients []string
	var recipientFiles []string
	var compression string
	var outPath string

	cmd := &cobra.Command{
		Use:   "seal-model DEFINITION",
		Short: "Seal a JSONC model definition into a model artifact",
		Long:  "Validates the definition, compresses it, and seals it to the model recipients. Prints the definition digest for model.digest.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := inference.ParseCompressionTag(compression)
			if err != nil {
				return err
			}
			for _, path := range recipientFiles {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading recipient: %w", err)
				}
				recipients = append(recipients, strings.TrimSpace(string(data)))
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient or --recipient-file is required")
			}
			for _, recipient := range recipients {
				if err := sealed.ValidateRecipient(recipient); err != nil {
					return err
				}
			}

			definition, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := inference.ParseModel(definition); err != nil {
				return err
			}
			artifact, err := inference.SealArtifact(definition, tag, recipients)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = strings.TrimSuffix(args[0], ".jsonc") + ".age"
			}
			if err := os.WriteFile(outPath, artifact, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), inference.DigestDefinition(definition).String())
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&recipients, "recipient", "r", nil, "age recipient (age1...), repeatable")
	cmd.Flags().StringArrayVarP(&recipientFiles, "recipient-file", "R", nil, "file holding an age recipient, repeatable")
	cmd.Flags().StringVarP(&compression, "compression", "c", "zstd", "none, lz4, or zstd")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default: DEFINITION with .age)")
	return cmd
}
