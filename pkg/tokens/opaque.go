// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"k8s.io/utils/clock"

	"github.com/quayside/oidcserver/pkg/ticket"
)

// DataProtector encrypts and authenticates an arbitrary payload into an
// opaque string, and reverses it. Implementations must reject any value
// that fails authentication.
type DataProtector interface {
	Protect(plaintext []byte) (string, error)
	Unprotect(value string) ([]byte, error)
}

// ErrProtectedValueInvalid is returned when an opaque value fails
// decoding or authentication.
var ErrProtectedValueInvalid = errors.New("protected value is invalid")

// AEADProtector is a DataProtector built on XChaCha20-Poly1305 with an
// HKDF-derived key. Distinct purposes derive distinct keys from the same
// secret, so tokens of one kind cannot be replayed as another.
type AEADProtector struct {
	aead cipher.AEAD
}

// NewAEADProtector derives a protection key from the secret bound to the
// given purpose and returns the protector. The secret may be any length;
// it is stretched through HKDF-SHA256.
func NewAEADProtector(secret []byte, purpose string) (*AEADProtector, error) {
	if len(secret) == 0 {
		return nil, errors.New("protection secret is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("failed to derive protection key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return &AEADProtector{aead: aead}, nil
}

// Protect seals the plaintext under a random nonce and encodes
// nonce||ciphertext as base64url.
func (p *AEADProtector) Protect(plaintext []byte) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := p.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Unprotect decodes and opens a protected value.
func (p *AEADProtector) Unprotect(value string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX {
		return nil, ErrProtectedValueInvalid
	}
	nonce, ciphertext := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrProtectedValueInvalid
	}
	return plaintext, nil
}

// OpaqueCodec serializes tickets as encrypted, authenticated opaque
// strings. Unlike the JWT codec it is lossless: the full principal,
// including claim properties and the actor chain, survives the round
// trip, which makes it the natural carrier for authorization codes and
// refresh tokens.
type OpaqueCodec struct {
	// Usage is the usage value this codec is bound to.
	Usage string

	// Lifetime defaults the expiry of tickets that carry none.
	Lifetime time.Duration

	// Protector seals and opens the serialized ticket.
	Protector DataProtector

	// Clock supplies the current time; defaults to the real clock.
	Clock clock.PassiveClock
}

var _ Codec = (*OpaqueCodec)(nil)

// opaquePayload is the sealed wire form.
type opaquePayload struct {
	Usage  string         `json:"usage"`
	Ticket *ticket.Ticket `json:"ticket"`
}

// Serialize seals the ticket into an opaque string.
func (c *OpaqueCodec) Serialize(_ context.Context, t *ticket.Ticket) (string, error) {
	t = finalize(t, c.Usage, c.Lifetime, passiveClock(c.Clock))
	plaintext, err := json.Marshal(opaquePayload{Usage: c.Usage, Ticket: t})
	if err != nil {
		return "", fmt.Errorf("failed to encode ticket: %w", err)
	}
	return c.Protector.Protect(plaintext)
}

// Deserialize opens an opaque string and rebuilds the ticket. A usage
// mismatch yields a nil ticket.
func (c *OpaqueCodec) Deserialize(_ context.Context, value string) (*ticket.Ticket, error) {
	plaintext, err := c.Protector.Unprotect(value)
	if err != nil {
		return nil, err
	}
	var payload opaquePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}
	if !strings.EqualFold(payload.Usage, c.Usage) || payload.Ticket == nil {
		return nil, ErrUsageMismatch
	}
	if payload.Ticket.Properties == nil {
		payload.Ticket.Properties = make(map[string]string)
	}
	return payload.Ticket, nil
}
