// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/bureau-foundation/enclave/lib/clock"
	"github.com/bureau-foundation/enclave/lib/secret"
)

// Policy decides which enclaves may receive keys.
type Policy struct {
	// Allowed lists the measurements that may receive the bundle.
	Allowed []Measurement

	// ChallengeTTL is how long a nonce stays answerable.
	ChallengeTTL time.Duration

	// MaxClockSkew bounds the gap between a document's timestamp and
	// the authority's clock.
	MaxClockSkew time.Duration

	// MaxPending caps outstanding challenges.
	MaxPending int
}

// DefaultPolicy returns the limits used when a Policy field is zero.
func DefaultPolicy() Policy {
	return Policy{
		ChallengeTTL: 30 * time.Second,
		MaxClockSkew: 2 * time.Minute,
		MaxPending:   1024,
	}
}

func (p Policy) allows(measurement Measurement) bool {
	for _, allowed := range p.Allowed {
		if subtle.ConstantTimeCompare(allowed[:], measurement[:]) == 1 {
			return true
		}
	}
	return false
}

// Authority is the development key authority. It implements
// AuthorityServer.
type Authority struct {
	policy     Policy
	bundle     *secret.Buffer
	signingKey *ecdsa.PrivateKey
	ledger     *Ledger
	challenges *challengeCache
	clock      clock.Clock
	logger     *slog.Logger
}

// AuthorityConfig holds what NewAuthority needs.
type AuthorityConfig struct {
	Policy Policy

	// Bundle is the CBOR-encoded KeyBundle, as returned by OpenBundle.
	// The Authority takes ownership and closes it on Close.
	Bundle *secret.Buffer

	SigningKey *ecdsa.PrivateKey

	// Ledger records every decision. Nil records nothing.
	Ledger *Ledger

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewAuthority builds an authority from cfg.
func NewAuthority(cfg AuthorityConfig) (*Authority, error) {
	if cfg.Bundle == nil {
		return nil, errors.New("authority: key bundle is required")
	}
	if cfg.SigningKey == nil {
		return nil, errors.New("authority: signing key is required")
	}
	if len(cfg.Policy.Allowed) == 0 {
		return nil, errors.New("authority: policy allows no measurements")
	}

	policy := cfg.Policy
	defaults := DefaultPolicy()
	if policy.ChallengeTTL <= 0 {
		policy.ChallengeTTL = defaults.ChallengeTTL
	}
	if policy.MaxClockSkew <= 0 {
		policy.MaxClockSkew = defaults.MaxClockSkew
	}
	if policy.MaxPending <= 0 {
		policy.MaxPending = defaults.MaxPending
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Authority{
		policy:     policy,
		bundle:     cfg.Bundle,
		signingKey: cfg.SigningKey,
		ledger:     cfg.Ledger,
		challenges: newChallengeCache(policy.MaxPending),
		clock:      clk,
		logger:     logger,
	}, nil
}

// Close releases the bundle memory. It does not close the ledger.
func (a *Authority) Close() error {
	return a.bundle.Close()
}

// Pending returns the number of unanswered challenges.
func (a *Authority) Pending() int { return a.challenges.Len() }

// PruneExpired drops expired challenges.
func (a *Authority) PruneExpired() int { return a.challenges.Prune(a.clock.Now()) }

// Challenge implements AuthorityServer.
func (a *Authority) Challenge(ctx context.Context, request *ChallengeRequest) (*ChallengeResponse, error) {
	if request.ModuleID == "" {
		return nil, status.Error(codes.InvalidArgument, "module_id is required")
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, status.Errorf(codes.Internal, "generating nonce: %v", err)
	}
	expires := a.clock.Now().Add(a.policy.ChallengeTTL)

	// Session ID zero is reserved, and IDs must be unique among
	// pending challenges.
	var idBytes [8]byte
	for {
		if _, err := rand.Read(idBytes[:]); err != nil {
			return nil, status.Errorf(codes.Internal, "generating session id: %v", err)
		}
		sessionID := binary.BigEndian.Uint64(idBytes[:])
		if sessionID == 0 {
			continue
		}
		if a.challenges.Put(pendingChallenge{
			sessionID: sessionID,
			moduleID:  request.ModuleID,
			nonce:     nonce,
			expires:   expires,
		}) {
			a.logger.Debug("challenge issued", "session_id", sessionID, "module_id", request.ModuleID)
			return &ChallengeResponse{
				SessionID: sessionID,
				Nonce:     nonce,
				ExpiresAt: expires.Unix(),
			}, nil
		}
	}
}

// Release implements AuthorityServer.
func (a *Authority) Release(ctx context.Context, request *ReleaseRequest) (*ReleaseResponse, error) {
	entry := LedgerEntry{SessionID: request.SessionID}
	if remote, ok := peer.FromContext(ctx); ok && remote.Addr != nil {
		entry.Peer = remote.Addr.String()
	}

	response, err := a.release(request, &entry)
	entry.Granted = err == nil
	if err != nil {
		entry.Reason = status.Convert(err).Message()
	}
	entry.RecordedAt = a.clock.Now()

	if a.ledger != nil {
		if recordErr := a.ledger.Record(ctx, entry); recordErr != nil {
			// A grant that cannot be recorded is not made.
			a.logger.Error("recording release decision failed", "error", recordErr)
			if err == nil {
				return nil, status.Error(codes.Unavailable, "release ledger unavailable")
			}
		}
	}

	if err != nil {
		a.logger.Warn("key release denied",
			"session_id", entry.SessionID,
			"module_id", entry.ModuleID,
			"measurement", entry.Measurement,
			"reason", entry.Reason,
		)
		return nil, err
	}
	a.logger.Info("key released",
		"session_id", entry.SessionID,
		"module_id", entry.ModuleID,
		"measurement", entry.Measurement,
	)
	return response, nil
}

func (a *Authority) release(request *ReleaseRequest, entry *LedgerEntry) (*ReleaseResponse, error) {
	now := a.clock.Now()
	challenge, ok := a.challenges.Take(request.SessionID, now)
	if !ok {
		return nil, status.Error(codes.FailedPrecondition, "unknown or expired session")
	}
	entry.ModuleID = challenge.moduleID

	document, err := ParseDocument(request.Document)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	measurement := document.MeasurementValue()
	entry.Measurement = measurement.String()

	if document.ModuleID != challenge.moduleID {
		return nil, status.Error(codes.PermissionDenied, "module_id does not match the challenge")
	}
	if subtle.ConstantTimeCompare(document.Nonce, challenge.nonce) != 1 {
		return nil, status.Error(codes.PermissionDenied, "nonce does not match the challenge")
	}
	skew := now.Sub(time.Unix(document.Timestamp, 0)).Abs()
	if skew > a.policy.MaxClockSkew {
		return nil, status.Errorf(codes.PermissionDenied, "document timestamp is %s from authority time", skew.Round(time.Second))
	}
	if !a.policy.allows(measurement) {
		return nil, status.Error(codes.PermissionDenied, "measurement is not allowed")
	}

	enclaveKey, err := ecdh.P256().NewPublicKey(document.PublicKey)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "enclave public key: %v", err)
	}
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "generating ephemeral key: %v", err)
	}
	keys, err := deriveSessionKeys(ephemeral, enclaveKey)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "deriving session keys: %v", err)
	}
	defer keys.Close()

	sealedBundle, err := keys.seal(a.bundle.Bytes())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "sealing bundle: %v", err)
	}
	authorityKey := ephemeral.PublicKey().Bytes()
	tag, err := keys.tag(authorityKey, sealedBundle)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "tagging response: %v", err)
	}
	signature, err := ecdsa.SignASN1(rand.Reader, a.signingKey, signedDigest(authorityKey, document.PublicKey, challenge.nonce))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "signing response: %v", err)
	}

	return &ReleaseResponse{
		AuthorityKey: authorityKey,
		Signature:    signature,
		SealedBundle: sealedBundle,
		Tag:          tag,
	}, nil
}

// String describes the policy for startup logs.
func (p Policy) String() string {
	return fmt.Sprintf("%d allowed measurements, challenge ttl %s", len(p.Allowed), p.ChallengeTTL)
}

// Serve runs the authority's gRPC service on listener until ctx is
// done, then stops gracefully. Expired challenges are pruned every
// ChallengeTTL.
func (a *Authority) Serve(ctx context.Context, listener net.Listener) error {
	server := grpc.NewServer()
	RegisterAuthorityServer(server, a)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-ctx.Done():
				server.GracefulStop()
				return
			case <-done:
				return
			case <-a.clock.After(a.policy.ChallengeTTL):
				if dropped := a.PruneExpired(); dropped > 0 {
					a.logger.Debug("pruned expired challenges", "count", dropped)
				}
			}
		}
	}()

	a.logger.Info("key authority serving", "address", listener.Addr().String(), "policy", a.policy.String())
	if err := server.Serve(listener); err != nil {
		return fmt.Errorf("serving key authority: %w", err)
	}
	return nil
}
