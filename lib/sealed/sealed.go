// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/enclave/lib/secret"
)

// MaxPlaintextSize bounds what Open will read from a single age file.
// Models and key bundles are far smaller; anything larger is refused
// before it can exhaust locked memory.
const MaxPlaintextSize = 64 << 20

// Keypair is an age x25519 keypair. The identity lives in locked memory;
// the recipient is public. Call Close when done.
type Keypair struct {
	Identity  *secret.Buffer
	Recipient string
}

// Close releases the identity memory. Idempotent.
func (k *Keypair) Close() error {
	if k.Identity != nil {
		return k.Identity.Close()
	}
	return nil
}

// GenerateKeypair returns a fresh x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// identity.String() leaves one heap copy behind; the locked buffer
	// is the one that lives on.
	protected, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting age identity: %w", err)
	}
	return &Keypair{
		Identity:  protected,
		Recipient: identity.Recipient().String(),
	}, nil
}

// Seal encrypts plaintext to every recipient (age1... strings) and
// returns the binary age file.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var sealedBuffer bytes.Buffer
	writer, err := age.Encrypt(&sealedBuffer, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return sealedBuffer.Bytes(), nil
}

// Open decrypts a binary age file with identity. The identity is
// borrowed, not closed. The caller must Close the returned buffer.
func Open(ciphertext []byte, identity *secret.Buffer) (*secret.Buffer, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), parsed)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(io.LimitReader(reader, MaxPlaintextSize+1))
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	if len(plaintext) > MaxPlaintextSize {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("decrypted plaintext exceeds %d bytes", MaxPlaintextSize)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("decrypted plaintext is empty")
	}

	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

// ValidateRecipient reports whether recipientKey is a well-formed age
// x25519 recipient.
func ValidateRecipient(recipientKey string) error {
	if _, err := age.ParseX25519Recipient(recipientKey); err != nil {
		return fmt.Errorf("invalid age recipient: %w", err)
	}
	return nil
}

// RecipientOf derives the public recipient string for identity.
func RecipientOf(identity *secret.Buffer) (string, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return "", fmt.Errorf("parsing age identity: %w", err)
	}
	return parsed.Recipient().String(), nil
}
