// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/quayside/oidcserver/pkg/ticket"
)

// headerThumbprint is the JOSE header carrying the certificate SHA-1
// thumbprint (RFC 7515 Section 4.1.7).
const headerThumbprint = "x5t"

// claimProperties is the private claim carrying the ticket property bag,
// making the JWT form reversible.
const claimProperties = "tkp"

// registeredClaims are claim names the codec owns; identity claims with
// these types are not flattened into the payload.
var registeredClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "nbf": {}, "iat": {},
	"jti": {}, "scope": {}, "nonce": {}, "act": {}, claimProperties: {},
}

// JWTCodec serializes tickets as signed JWTs (RFC 7519). The subject is
// the primary identity's subject claim; the audience is emitted as a
// single string when the ticket has at most one audience and as an array
// otherwise. The ticket property bag travels in a private claim so the
// reverse path can rebuild the ticket; per-claim properties (such as
// destinations) do not survive a JWT round trip — hosts that need a
// lossless carrier for codes and refresh tokens use OpaqueCodec.
type JWTCodec struct {
	// Usage is the usage value this codec is bound to.
	Usage string

	// Issuer is the iss claim value.
	Issuer string

	// Lifetime defaults the expiry of tickets that carry none.
	Lifetime time.Duration

	// IncludeIssuedAt emits the iat claim.
	IncludeIssuedAt bool

	// Credentials holds the signing keys. The first entry signs; every
	// entry is tried when verifying.
	Credentials []SigningCredentials

	// Clock supplies the current time; defaults to the real clock.
	Clock clock.PassiveClock
}

var _ Codec = (*JWTCodec)(nil)

// Serialize builds, signs and compact-serializes the JWT for the ticket.
func (c *JWTCodec) Serialize(_ context.Context, t *ticket.Ticket) (string, error) {
	if len(c.Credentials) == 0 {
		return "", ErrNoSigningKey
	}
	t = finalize(t, c.Usage, c.Lifetime, passiveClock(c.Clock))

	primary := t.Principal.Primary()
	if primary == nil || primary.Subject() == "" {
		return "", ErrMissingSubject
	}

	claims := map[string]any{
		"sub": primary.Subject(),
		"jti": uuid.NewString(),
		"nbf": t.IssuedAt.Unix(),
	}
	if c.Issuer != "" {
		claims["iss"] = c.Issuer
	}
	if !t.ExpiresAt.IsZero() {
		claims["exp"] = t.ExpiresAt.Unix()
	}
	if c.IncludeIssuedAt {
		claims["iat"] = t.IssuedAt.Unix()
	}
	if audiences := t.GetAudiences(); len(audiences) == 1 {
		claims["aud"] = audiences[0]
	} else if len(audiences) > 1 {
		claims["aud"] = audiences
	}
	if scopes := t.GetScopes(); len(scopes) > 0 {
		claims["scope"] = strings.Join(scopes, " ")
	}
	if nonce := t.GetNonce(); nonce != "" && strings.EqualFold(c.Usage, ticket.UsageIdentityToken) {
		claims["nonce"] = nonce
	}
	if primary.Actor != nil {
		claims["act"] = actorClaim(primary.Actor)
	}
	for _, cl := range primary.Claims {
		if _, reserved := registeredClaims[cl.Type]; reserved {
			continue
		}
		if _, present := claims[cl.Type]; present {
			continue
		}
		claims[cl.Type] = cl.Value
	}
	claims[claimProperties] = t.Properties

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}

	cred := c.Credentials[0]
	opts := (&jose.SignerOptions{}).WithType("JWT")
	if kid := cred.DeriveKeyID(); kid != "" {
		opts = opts.WithHeader(jose.HeaderKey("kid"), kid)
	}
	if x5t := cred.Thumbprint(); x5t != "" {
		opts = opts.WithHeader(jose.HeaderKey(headerThumbprint), x5t)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: cred.Algorithm, Key: cred.Key}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	object, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return object.CompactSerialize()
}

// Deserialize verifies the JWT signature against the configured keys,
// checks the recorded usage and rebuilds the ticket.
func (c *JWTCodec) Deserialize(_ context.Context, value string) (*ticket.Ticket, error) {
	if len(c.Credentials) == 0 {
		return nil, ErrNoSigningKey
	}
	object, err := jose.ParseSigned(value, c.algorithms())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	var payload []byte
	for _, cred := range c.Credentials {
		if payload, err = object.Verify(cred.Key.Public()); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode claims: %w", err)
	}

	properties := make(map[string]string)
	if raw, ok := claims[claimProperties].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				properties[k] = s
			}
		}
	}
	if !strings.EqualFold(properties[ticket.PropertyUsage], c.Usage) {
		return nil, ErrUsageMismatch
	}

	sub, _ := claims["sub"].(string)
	identity := ticket.NewIdentity(ticket.NewClaim(ticket.ClaimTypeSubject, sub))
	identity.Actor = actorIdentity(claims["act"])

	t := &ticket.Ticket{
		Principal:  ticket.NewPrincipal(identity),
		Properties: properties,
		IssuedAt:   unixTime(claims["nbf"]),
		ExpiresAt:  unixTime(claims["exp"]),
	}
	return t, nil
}

// algorithms collects the distinct signature algorithms of the configured
// credentials, as required by the go-jose v4 parse API.
func (c *JWTCodec) algorithms() []jose.SignatureAlgorithm {
	out := make([]jose.SignatureAlgorithm, 0, len(c.Credentials))
	seen := make(map[jose.SignatureAlgorithm]struct{}, len(c.Credentials))
	for _, cred := range c.Credentials {
		if _, dup := seen[cred.Algorithm]; dup {
			continue
		}
		seen[cred.Algorithm] = struct{}{}
		out = append(out, cred.Algorithm)
	}
	return out
}

// actorClaim renders the actor chain as nested act claims
// (RFC 8693 Section 4.1).
func actorClaim(actor *ticket.Identity) map[string]any {
	out := map[string]any{"sub": actor.Subject()}
	if actor.Actor != nil {
		out["act"] = actorClaim(actor.Actor)
	}
	return out
}

// actorIdentity rebuilds the actor chain from a nested act claim.
func actorIdentity(claim any) *ticket.Identity {
	raw, ok := claim.(map[string]any)
	if !ok {
		return nil
	}
	sub, _ := raw["sub"].(string)
	identity := ticket.NewIdentity(ticket.NewClaim(ticket.ClaimTypeSubject, sub))
	identity.Actor = actorIdentity(raw["act"])
	return identity
}

// unixTime converts a numeric JSON claim to a time, returning the zero
// time when the claim is absent or malformed.
func unixTime(claim any) time.Time {
	switch v := claim.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	default:
		return time.Time{}
	}
}
