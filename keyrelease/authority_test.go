// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bureau-foundation/enclave/lib/clock"
	"github.com/bureau-foundation/enclave/lib/codec"
	"github.com/bureau-foundation/enclave/lib/secret"
	"github.com/bureau-foundation/enclave/lib/testutil"
)

var (
	trustedMeasurement   = Measurement{0xaa, 0xbb}
	untrustedMeasurement = Measurement{0x01}
	testEnvelopeKey      = bytes.Repeat([]byte{0x42}, 32)
	testModelIdentity    = []byte("AGE-SECRET-KEY-1MODEL")
)

const testModule = "enclave-service"

type authorityFixture struct {
	authority  *Authority
	ledger     *Ledger
	signingKey *ecdsa.PrivateKey
	clock      *clock.FakeClock
}

func newAuthorityFixture(t *testing.T) *authorityFixture {
	t.Helper()

	encoded, err := codec.Marshal(KeyBundle{
		EnvelopeKey:   bytes.Clone(testEnvelopeKey),
		ModelIdentity: bytes.Clone(testModelIdentity),
	})
	if err != nil {
		t.Fatal(err)
	}
	bundle, err := secret.NewFromBytes(encoded)
	if err != nil {
		t.Fatal(err)
	}
	signingKey, err := GenerateSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	ledger := openTestLedger(t)
	fake := clock.Fake(epoch)

	authority, err := NewAuthority(AuthorityConfig{
		Policy: Policy{
			Allowed:      []Measurement{trustedMeasurement},
			ChallengeTTL: 30 * time.Second,
			MaxClockSkew: time.Minute,
		},
		Bundle:     bundle,
		SigningKey: signingKey,
		Ledger:     ledger,
		Clock:      fake,
		Logger:     testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	t.Cleanup(func() { authority.Close() })

	return &authorityFixture{authority: authority, ledger: ledger, signingKey: signingKey, clock: fake}
}

func (f *authorityFixture) attester(measurement Measurement) DevAttester {
	return DevAttester{ModuleID: testModule, Measurement: measurement, Clock: f.clock}
}

// exchange runs one challenge and release directly against the
// authority, editing the document with mutate before sending it.
func (f *authorityFixture) exchange(t *testing.T, mutate func(*Document)) (*ChallengeResponse, []byte, *ReleaseResponse, error) {
	t.Helper()
	ctx := context.Background()

	challenge, err := f.authority.Challenge(ctx, &ChallengeRequest{ModuleID: testModule})
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	publicKey := generateECDH(t).PublicKey().Bytes()
	data, err := f.attester(trustedMeasurement).Attest(ctx, challenge.Nonce, publicKey)
	if err != nil {
		t.Fatal(err)
	}
	if mutate != nil {
		document, err := ParseDocument(data)
		if err != nil {
			t.Fatal(err)
		}
		mutate(&document)
		if data, err = codec.Marshal(document); err != nil {
			t.Fatal(err)
		}
	}
	response, err := f.authority.Release(ctx, &ReleaseRequest{SessionID: challenge.SessionID, Document: data})
	return challenge, publicKey, response, err
}

func TestNewAuthorityRequires(t *testing.T) {
	signingKey, err := GenerateSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	bundle, err := secret.NewFromBytes([]byte("bundle"))
	if err != nil {
		t.Fatal(err)
	}
	defer bundle.Close()
	allowed := Policy{Allowed: []Measurement{trustedMeasurement}}

	tests := []struct {
		name string
		cfg  AuthorityConfig
	}{
		{"no bundle", AuthorityConfig{Policy: allowed, SigningKey: signingKey}},
		{"no signing key", AuthorityConfig{Policy: allowed, Bundle: bundle}},
		{"empty allowlist", AuthorityConfig{Bundle: bundle, SigningKey: signingKey}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewAuthority(test.cfg); err == nil {
				t.Error("NewAuthority succeeded")
			}
		})
	}
}

func TestChallengeIssuesFreshNonces(t *testing.T) {
	f := newAuthorityFixture(t)
	ctx := context.Background()

	first, err := f.authority.Challenge(ctx, &ChallengeRequest{ModuleID: testModule})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.authority.Challenge(ctx, &ChallengeRequest{ModuleID: testModule})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Nonce) != NonceSize {
		t.Errorf("nonce is %d bytes, want %d", len(first.Nonce), NonceSize)
	}
	if first.SessionID == second.SessionID || bytes.Equal(first.Nonce, second.Nonce) {
		t.Error("two challenges share a session id or nonce")
	}
	if want := epoch.Add(30 * time.Second).Unix(); first.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", first.ExpiresAt, want)
	}
	if f.authority.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", f.authority.Pending())
	}

	if _, err := f.authority.Challenge(ctx, &ChallengeRequest{}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty module: code %v, want InvalidArgument", status.Code(err))
	}
}

func TestReleaseGranted(t *testing.T) {
	f := newAuthorityFixture(t)
	challenge, publicKey, response, err := f.exchange(t, nil)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !verifySignature(&f.signingKey.PublicKey, response.Signature, response.AuthorityKey, publicKey, challenge.Nonce) {
		t.Error("response signature does not verify")
	}
	if bytes.Contains(response.SealedBundle, testEnvelopeKey) {
		t.Error("sealed bundle contains the envelope key in the clear")
	}

	entries, err := f.ledger.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if !entry.Granted || entry.SessionID != challenge.SessionID || entry.ModuleID != testModule {
		t.Errorf("ledger entry = %+v", entry)
	}
	if entry.Measurement != trustedMeasurement.String() {
		t.Errorf("ledger measurement = %s, want %s", entry.Measurement, trustedMeasurement)
	}
}

func TestReleaseDenials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Document)
		code   codes.Code
		reason string
	}{
		{
			name:   "untrusted measurement",
			mutate: func(d *Document) { d.Measurement = untrustedMeasurement[:] },
			code:   codes.PermissionDenied,
			reason: "measurement is not allowed",
		},
		{
			name:   "wrong nonce",
			mutate: func(d *Document) { d.Nonce = make([]byte, NonceSize) },
			code:   codes.PermissionDenied,
			reason: "nonce does not match the challenge",
		},
		{
			name:   "wrong module",
			mutate: func(d *Document) { d.ModuleID = "other" },
			code:   codes.PermissionDenied,
			reason: "module_id does not match the challenge",
		},
		{
			name:   "stale document",
			mutate: func(d *Document) { d.Timestamp -= 600 },
			code:   codes.PermissionDenied,
		},
		{
			name:   "bad public key",
			mutate: func(d *Document) { d.PublicKey = []byte{4, 1, 2, 3} },
			code:   codes.InvalidArgument,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newAuthorityFixture(t)
			_, _, response, err := f.exchange(t, test.mutate)
			if response != nil {
				t.Fatal("denied release returned a response")
			}
			if status.Code(err) != test.code {
				t.Fatalf("code = %v, want %v (%v)", status.Code(err), test.code, err)
			}

			entries, err := f.ledger.Recent(context.Background(), 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 1 || entries[0].Granted {
				t.Fatalf("ledger = %+v, want one denial", entries)
			}
			if test.reason != "" && entries[0].Reason != test.reason {
				t.Errorf("ledger reason = %q, want %q", entries[0].Reason, test.reason)
			}
		})
	}
}

func TestReleaseSessionIsSingleUse(t *testing.T) {
	f := newAuthorityFixture(t)
	ctx := context.Background()

	challenge, err := f.authority.Challenge(ctx, &ChallengeRequest{ModuleID: testModule})
	if err != nil {
		t.Fatal(err)
	}
	document, err := f.attester(trustedMeasurement).Attest(ctx, challenge.Nonce, generateECDH(t).PublicKey().Bytes())
	if err != nil {
		t.Fatal(err)
	}
	request := &ReleaseRequest{SessionID: challenge.SessionID, Document: document}

	if _, err := f.authority.Release(ctx, request); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if _, err := f.authority.Release(ctx, request); status.Code(err) != codes.FailedPrecondition {
		t.Errorf("replayed Release: code %v, want FailedPrecondition", status.Code(err))
	}
}

func TestReleaseExpiredChallenge(t *testing.T) {
	f := newAuthorityFixture(t)
	ctx := context.Background()

	challenge, err := f.authority.Challenge(ctx, &ChallengeRequest{ModuleID: testModule})
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(31 * time.Second)
	document, err := f.attester(trustedMeasurement).Attest(ctx, challenge.Nonce, generateECDH(t).PublicKey().Bytes())
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.authority.Release(ctx, &ReleaseRequest{SessionID: challenge.SessionID, Document: document})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("code = %v, want FailedPrecondition", status.Code(err))
	}
}

func TestPruneExpired(t *testing.T) {
	f := newAuthorityFixture(t)
	ctx := context.Background()
	for range 3 {
		if _, err := f.authority.Challenge(ctx, &ChallengeRequest{ModuleID: testModule}); err != nil {
			t.Fatal(err)
		}
	}
	f.clock.Advance(time.Minute)
	if dropped := f.authority.PruneExpired(); dropped != 3 {
		t.Errorf("PruneExpired = %d, want 3", dropped)
	}
	if f.authority.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", f.authority.Pending())
	}
}
