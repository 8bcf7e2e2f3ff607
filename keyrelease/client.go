// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/bureau-foundation/enclave/lib/clock"
	"github.com/bureau-foundation/enclave/lib/codec"
	"github.com/bureau-foundation/enclave/lib/secret"
)

// ErrDenied is returned when the authority refuses the enclave. It is
// not retried.
var ErrDenied = errors.New("key release denied")

// Client talks to a key authority.
type Client struct {
	conn *grpc.ClientConn
	stub authorityClient
}

// Dial connects to the authority at target. A bare path or a unix://
// target uses a unix socket; anything else is a gRPC target string.
// The connection is lazy: errors surface on the first call.
func Dial(target string, options ...grpc.DialOption) (*Client, error) {
	if strings.HasPrefix(target, "/") {
		target = "unix://" + target
	}
	options = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, options...)

	conn, err := grpc.NewClient(target, options...)
	if err != nil {
		return nil, fmt.Errorf("connecting to key authority %s: %w", target, err)
	}
	return &Client{conn: conn, stub: authorityClient{conn: conn}}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Released is the key material an enclave received. Close zeroes it.
type Released struct {
	EnvelopeKey *secret.Buffer

	// ModelIdentity is nil when the bundle carried none.
	ModelIdentity *secret.Buffer
}

// Close zeroes the released keys.
func (r *Released) Close() {
	if r.EnvelopeKey != nil {
		r.EnvelopeKey.Close()
	}
	if r.ModelIdentity != nil {
		r.ModelIdentity.Close()
	}
}

// ReleaseOptions configures Client.Release.
type ReleaseOptions struct {
	ModuleID string
	Attester Attester

	// AuthorityKey verifies the authority's signature.
	AuthorityKey *ecdsa.PublicKey

	// Attempts is the total number of tries. Zero means one.
	Attempts int

	// Backoff is the wait before the second attempt. It doubles after
	// each failure.
	Backoff time.Duration

	// Timeout bounds each attempt.
	Timeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Release runs the challenge/attest/release exchange, retrying
// transient failures.
func (c *Client) Release(ctx context.Context, options ReleaseOptions) (*Released, error) {
	if options.Attester == nil {
		return nil, errors.New("key release: attester is required")
	}
	if options.AuthorityKey == nil {
		return nil, errors.New("key release: authority key is required")
	}
	attempts := max(options.Attempts, 1)
	backoff := options.Backoff
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		released, err := c.attempt(ctx, options)
		if err == nil {
			return released, nil
		}
		lastErr = err
		if errors.Is(err, ErrDenied) || ctx.Err() != nil {
			return nil, err
		}
		if attempt == attempts {
			break
		}

		logger.Warn("key release attempt failed, retrying",
			"attempt", attempt,
			"attempts", attempts,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-clk.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("key release failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, options ReleaseOptions) (*Released, error) {
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	challenge, err := c.stub.Challenge(ctx, &ChallengeRequest{ModuleID: options.ModuleID})
	if err != nil {
		return nil, classify("challenge", err)
	}
	if len(challenge.Nonce) != NonceSize {
		return nil, fmt.Errorf("challenge nonce is %d bytes, want %d", len(challenge.Nonce), NonceSize)
	}

	private, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}
	publicKey := private.PublicKey().Bytes()

	document, err := options.Attester.Attest(ctx, challenge.Nonce, publicKey)
	if err != nil {
		return nil, fmt.Errorf("attesting: %w", err)
	}

	response, err := c.stub.Release(ctx, &ReleaseRequest{
		SessionID: challenge.SessionID,
		Document:  document,
	})
	if err != nil {
		return nil, classify("release", err)
	}

	return openResponse(private, publicKey, challenge.Nonce, response, options.AuthorityKey)
}

// openResponse checks a release response and decrypts its bundle.
// Verification failures are denials: retrying against the same
// authority cannot fix them.
func openResponse(private *ecdh.PrivateKey, publicKey, nonce []byte, response *ReleaseResponse, signer *ecdsa.PublicKey) (*Released, error) {
	if !verifySignature(signer, response.Signature, response.AuthorityKey, publicKey, nonce) {
		return nil, fmt.Errorf("%w: authority signature does not verify", ErrDenied)
	}
	authorityKey, err := ecdh.P256().NewPublicKey(response.AuthorityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: authority key: %v", ErrDenied, err)
	}
	keys, err := deriveSessionKeys(private, authorityKey)
	if err != nil {
		return nil, err
	}
	defer keys.Close()

	if !keys.verifyTag(response.Tag, response.AuthorityKey, response.SealedBundle) {
		return nil, fmt.Errorf("%w: response tag does not verify", ErrDenied)
	}
	encoded, err := keys.open(response.SealedBundle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDenied, err)
	}
	defer encoded.Close()

	var bundle KeyBundle
	if err := codec.Unmarshal(encoded.Bytes(), &bundle); err != nil {
		return nil, fmt.Errorf("decoding key bundle: %w", err)
	}
	defer secret.Zero(bundle.ModelIdentity)
	if err := bundle.Validate(); err != nil {
		secret.Zero(bundle.EnvelopeKey)
		return nil, err
	}

	released := &Released{}
	if released.EnvelopeKey, err = secret.NewFromBytes(bundle.EnvelopeKey); err != nil {
		return nil, err
	}
	if len(bundle.ModelIdentity) > 0 {
		if released.ModelIdentity, err = secret.NewFromBytes(bundle.ModelIdentity); err != nil {
			released.Close()
			return nil, err
		}
	}
	return released, nil
}

// classify marks authority refusals as ErrDenied.
func classify(step string, err error) error {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", step, ErrDenied, status.Convert(err).Message())
	}
	return fmt.Errorf("%s: %w", step, err)
}
