// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // certificate thumbprints are defined over SHA-1 (RFC 7515 x5t)
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// SigningCredentials bundles a signing key with its metadata. The first
// credentials in a configuration are used for signing; the rest remain
// valid for verification during key rotation.
type SigningCredentials struct {
	// Key is the private signing key.
	Key crypto.Signer

	// Algorithm is the JWS algorithm the key signs with (e.g. RS256,
	// ES256).
	Algorithm jose.SignatureAlgorithm

	// KeyID optionally pins the kid header. When empty, a kid is derived
	// from the certificate or the key material.
	KeyID string

	// Certificate optionally carries the X.509 certificate wrapping the
	// key, enabling thumbprint-based kid and x5t headers.
	Certificate *x509.Certificate
}

// DeriveKeyID returns the kid header value for the credentials: the pinned
// KeyID when set, else the certificate's SHA-1 thumbprint as upper-case
// hex, else, for an RSA key, the first 40 characters of the base64url
// modulus upper-cased. Returns "" when no identifier can be derived.
func (c SigningCredentials) DeriveKeyID() string {
	if c.KeyID != "" {
		return c.KeyID
	}
	if c.Certificate != nil {
		sum := sha1.Sum(c.Certificate.Raw) //nolint:gosec // thumbprint, not integrity
		return strings.ToUpper(hex.EncodeToString(sum[:]))
	}
	if key, ok := c.Key.(*rsa.PrivateKey); ok {
		encoded := base64.RawURLEncoding.EncodeToString(key.N.Bytes())
		if len(encoded) > 40 {
			encoded = encoded[:40]
		}
		return strings.ToUpper(encoded)
	}
	return ""
}

// Thumbprint returns the x5t header value: the base64url-encoded SHA-1
// hash of the certificate, or "" when no certificate is attached.
func (c SigningCredentials) Thumbprint() string {
	if c.Certificate == nil {
		return ""
	}
	sum := sha1.Sum(c.Certificate.Raw) //nolint:gosec // thumbprint, not integrity
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
