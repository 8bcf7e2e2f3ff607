// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/enclave/channel"
	"github.com/bureau-foundation/enclave/envelope"
	"github.com/bureau-foundation/enclave/lib/record"
	"github.com/bureau-foundation/enclave/lib/secret"
	"github.com/bureau-foundation/enclave/pipeline"
)

// envelopeCodec is the host half of whichever codec the enclave runs:
// sealed when a key file is given, transcode otherwise.
type envelopeCodec struct {
	keys *envelope.KeySet
}

func openEnvelopeCodec(keyPath string) (*envelopeCodec, error) {
	if keyPath == "" {
		return &envelopeCodec{}, nil
	}
	keys, err := readKeySet(keyPath)
	if err != nil {
		return nil, err
	}
	return &envelopeCodec{keys: keys}, nil
}

func (c *envelopeCodec) Close() {
	if c.keys != nil {
		c.keys.Close()
	}
}

func (c *envelopeCodec) request(plaintext []byte) ([]byte, error) {
	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("record is not valid JSON")
	}
	if c.keys != nil {
		return c.keys.SealRequest(plaintext)
	}
	return envelope.WrapRequest(plaintext), nil
}

func (c *envelopeCodec) result(envelopeBytes []byte) (record.Result, error) {
	if c.keys != nil {
		return c.keys.OpenResponse(envelopeBytes)
	}
	return envelope.UnwrapResult(bytes.TrimSpace(envelopeBytes))
}

// readInput reads the named file, or stdin when args is empty or "-".
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func newSealCommand() *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "seal [RECORD]",
		Short: "Build a request envelope from a JSON record",
		Long:  "Reads a JSON record from RECORD or stdin and prints the request envelope. With --key the envelope is sealed; without it the record is only base64 wrapped for the transcode codec.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := openEnvelopeCodec(keyPath)
			if err != nil {
				return err
			}
			defer codec.Close()

			plaintext, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			defer secret.Zero(plaintext)
			request, err := codec.request(bytes.TrimSpace(plaintext))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", request)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "envelope master key file (sealed codec)")
	return cmd
}

func newOpenCommand() *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "open [ENVELOPE]",
		Short: "Decode a result envelope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := openEnvelopeCodec(keyPath)
			if err != nil {
				return err
			}
			defer codec.Close()

			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			result, err := codec.result(data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "envelope master key file (sealed codec)")
	return cmd
}

// sendOutput is a response with its result envelope decoded.
type sendOutput struct {
	Status             pipeline.Status `json:"status"`
	Result             *record.Result  `json:"result,omitempty"`
	Error              string          `json:"error,omitempty"`
	Code               pipeline.Code   `json:"code,omitempty"`
	ProcessedInEnclave bool            `json:"processed_in_enclave"`
}

type sendOptions struct {
	dial    channel.DialConfig
	framing string
	limits  channel.Limits
	timeout time.Duration
	keyPath string
}

func newSendCommand(logger func() *slog.Logger) *cobra.Command {
	var options sendOptions
	cmd := &cobra.Command{
		Use:   "send [RECORD]",
		Short: "Send a JSON record to a running enclave and print the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			defer secret.Zero(plaintext)
			return send(cmd.Context(), cmd.OutOrStdout(), logger(), options, bytes.TrimSpace(plaintext))
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&options.dial.Network, "network", "vsock", "vsock, tcp, or unix")
	flags.Uint32Var(&options.dial.CID, "cid", 16, "enclave vsock context ID")
	flags.Uint32Var(&options.dial.Port, "port", channel.DefaultPort, "enclave vsock port")
	flags.StringVar(&options.dial.Address, "address", "", "host:port (tcp) or socket path (unix)")
	flags.StringVar(&options.framing, "framing", string(channel.FramingFrame), "frame or legacy")
	flags.IntVar(&options.limits.MaxPayload, "max-payload", channel.DefaultMaxPayload, "largest response accepted, in bytes")
	flags.DurationVar(&options.timeout, "timeout", 30*time.Second, "bound on the whole exchange")
	flags.StringVarP(&options.keyPath, "key", "k", "", "envelope master key file (sealed codec)")
	return cmd
}

func send(ctx context.Context, out io.Writer, logger *slog.Logger, options sendOptions, plaintext []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	framing, err := channel.ParseFraming(options.framing)
	if err != nil {
		return err
	}
	codec, err := openEnvelopeCodec(options.keyPath)
	if err != nil {
		return err
	}
	defer codec.Close()

	request, err := codec.request(plaintext)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, options.timeout)
	defer cancel()
	conn, err := channel.Dial(ctx, options.dial)
	if err != nil {
		return fmt.Errorf("connecting to enclave: %w", err)
	}
	defer conn.Close()

	started := time.Now()
	reply, err := channel.Call(ctx, conn, framing, options.limits, request)
	if err != nil {
		return fmt.Errorf("calling enclave: %w", err)
	}
	logger.Debug("enclave replied",
		"framing", string(framing),
		"request_bytes", len(request),
		"response_bytes", len(reply.Payload),
		"duration", time.Since(started),
	)

	response, err := pipeline.ParseResponse(reply.Payload)
	if err != nil {
		return err
	}
	output := sendOutput{
		Status:             response.Status,
		Error:              response.Error,
		Code:               response.Code,
		ProcessedInEnclave: response.ProcessedInEnclave,
	}
	if !response.Failed() {
		result, err := codec.result([]byte(response.Result))
		if err != nil {
			return fmt.Errorf("decoding result envelope: %w", err)
		}
		output.Result = &result
	}
	if err := printJSON(out, output); err != nil {
		return err
	}
	if response.Failed() {
		return fmt.Errorf("enclave returned %s error: %s", response.Code, response.Error)
	}
	return nil
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
