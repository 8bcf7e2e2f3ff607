// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/enclave/envelope"
	"github.com/bureau-foundation/enclave/keyrelease"
	"github.com/bureau-foundation/enclave/lib/sealed"
	"github.com/bureau-foundation/enclave/lib/secret"
)

// Files written by keygen.
const (
	envelopeKeyFile    = "envelope.key"
	modelKeyFile       = "model.key"
	modelRecipient     = "model.pub"
	authorityKeyFile   = "authority.key"
	authorityRecipient = "authority.pub"
	signingKeyFile     = "signing.pem"
	verifyingKeyFile   = "verifying.pem"
	bundleFile         = "bundle.age"
)

func newKeygenCommand() *cobra.Command {
	var outDir string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a full set of enclave key material",
		Long: `Writes into --out:

  envelope.key     envelope master key (hex), for host tooling
  model.key/.pub   age keypair that seals the model artifact
  authority.key/.pub  age keypair that seals the key bundle at rest
  signing.pem      key authority signing key (PKCS#8)
  verifying.pem    its public half, for the enclave configuration
  bundle.age       envelope key and model identity, sealed to authority.pub`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return err
			}
			if !force {
				for _, name := range []string{envelopeKeyFile, bundleFile, signingKeyFile} {
					if _, err := os.Stat(filepath.Join(outDir, name)); err == nil {
						return fmt.Errorf("%s already exists (use --force to overwrite)", filepath.Join(outDir, name))
					}
				}
			}
			return keygen(outDir)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing key files")
	return cmd
}

func keygen(outDir string) error {
	write := func(name string, data []byte, mode os.FileMode) error {
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, data, mode); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return nil
	}

	master := make([]byte, envelope.KeySize)
	if _, err := rand.Read(master); err != nil {
		return fmt.Errorf("generating envelope key: %w", err)
	}
	defer secret.Zero(master)
	masterHex := []byte(hex.EncodeToString(master) + "\n")
	err := write(envelopeKeyFile, masterHex, 0o600)
	secret.Zero(masterHex)
	if err != nil {
		return err
	}

	modelKeys, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer modelKeys.Close()
	if err := write(modelKeyFile, append([]byte(modelKeys.Identity.String()), '\n'), 0o600); err != nil {
		return err
	}
	if err := write(modelRecipient, []byte(modelKeys.Recipient+"\n"), 0o644); err != nil {
		return err
	}

	authorityKeys, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer authorityKeys.Close()
	if err := write(authorityKeyFile, append([]byte(authorityKeys.Identity.String()), '\n'), 0o600); err != nil {
		return err
	}
	if err := write(authorityRecipient, []byte(authorityKeys.Recipient+"\n"), 0o644); err != nil {
		return err
	}

	signingKey, err := keyrelease.GenerateSigningKey()
	if err != nil {
		return err
	}
	signingPEM, err := keyrelease.MarshalSigningKey(signingKey)
	if err != nil {
		return err
	}
	if err := write(signingKeyFile, signingPEM, 0o600); err != nil {
		return err
	}
	verifyingPEM, err := keyrelease.MarshalVerifyingKey(&signingKey.PublicKey)
	if err != nil {
		return err
	}
	if err := write(verifyingKeyFile, verifyingPEM, 0o644); err != nil {
		return err
	}

	bundle, err := keyrelease.SealBundle(keyrelease.KeyBundle{
		EnvelopeKey:   append([]byte(nil), master...),
		ModelIdentity: append([]byte(nil), modelKeys.Identity.Bytes()...),
	}, []string{authorityKeys.Recipient})
	if err != nil {
		return err
	}
	return write(bundleFile, bundle, 0o600)
}

// readKeySet loads a hex envelope master key file and derives the
// envelope keys from it.
func readKeySet(path string) (*envelope.KeySet, error) {
	text, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading envelope key: %w", err)
	}
	defer text.Close()

	if text.Len() != hex.EncodedLen(envelope.KeySize) {
		return nil, fmt.Errorf("envelope key %s must be %d hex characters", path, hex.EncodedLen(envelope.KeySize))
	}
	master, err := secret.New(envelope.KeySize)
	if err != nil {
		return nil, err
	}
	if _, err := hex.Decode(master.Bytes(), text.Bytes()); err != nil {
		master.Close()
		return nil, fmt.Errorf("envelope key %s is not hex", path)
	}
	return envelope.NewKeySet(master)
}

func newMeasureCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "measure IMAGE",
		Short: "Print the measurement of an enclave-service binary",
		Long:  "Prints the BLAKE3 measurement the enclave presents at key release, for the authority's allowed_measurements list.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			measurement, err := keyrelease.MeasureFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), measurement.String())
			return nil
		},
	}
}
