// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/quayside/oidcserver/pkg/events"
	"github.com/quayside/oidcserver/pkg/ticket"
	"github.com/quayside/oidcserver/pkg/tokens"
)

// Default token lifetimes, applied when the corresponding Config field is
// zero.
const (
	DefaultAccessTokenLifetime       = time.Hour
	DefaultIdentityTokenLifetime     = 20 * time.Minute
	DefaultRefreshTokenLifetime      = 14 * 24 * time.Hour
	DefaultAuthorizationCodeLifetime = 5 * time.Minute
)

// DefaultTokenEndpointPath is the path the token endpoint is mounted on
// when Config.TokenEndpointPath is empty.
const DefaultTokenEndpointPath = "/token"

// Config parameterizes an authorization server core. The host builds one,
// fills in its provider and credentials, and passes it to NewHandler;
// fields left zero receive the documented defaults. Configuration is
// read-only after NewHandler returns; updates require replacing the
// handler.
type Config struct {
	// Issuer is the issuer identifier of this server, used as the iss
	// claim of minted JWTs. Required.
	Issuer string

	// TokenEndpointPath is the route the token endpoint is mounted on.
	TokenEndpointPath string

	// Token lifetimes, used when a granted ticket carries no expiry.
	AccessTokenLifetime       time.Duration
	IdentityTokenLifetime     time.Duration
	RefreshTokenLifetime      time.Duration
	AuthorizationCodeLifetime time.Duration

	// UseSlidingExpiration lets tokens minted from a refresh_token grant
	// receive a fresh lifetime window. When false, their expiry is
	// clamped to the refresh token's own expiry.
	UseSlidingExpiration bool

	// EnableResponseTypeSelection honors a response_type parameter on
	// token requests as a selector of which token kinds to include in
	// the response. This is a non-standard extension; leave it off for
	// strict conformance.
	EnableResponseTypeSelection bool

	// IncludeIssuedAt emits the iat claim on JWTs minted by the default
	// codecs.
	IncludeIssuedAt bool

	// SigningCredentials sign JWTs minted by the default codecs. The
	// first entry signs; later entries stay valid for verification.
	SigningCredentials []tokens.SigningCredentials

	// Clock supplies the current time. Defaults to the real clock;
	// tests inject a fake.
	Clock clock.PassiveClock

	// Provider carries the host's extension handlers.
	Provider *events.Provider

	// Token codecs. Any left nil is replaced by a JWT codec over
	// SigningCredentials with the matching usage and lifetime.
	AccessTokenCodec       tokens.Codec
	IdentityTokenCodec     tokens.Codec
	RefreshTokenCodec      tokens.Codec
	AuthorizationCodeCodec tokens.Codec

	// Logger receives structured request logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// applyDefaults fills zero fields in place and validates the result.
func (c *Config) applyDefaults() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if c.TokenEndpointPath == "" {
		c.TokenEndpointPath = DefaultTokenEndpointPath
	}
	if c.AccessTokenLifetime == 0 {
		c.AccessTokenLifetime = DefaultAccessTokenLifetime
	}
	if c.IdentityTokenLifetime == 0 {
		c.IdentityTokenLifetime = DefaultIdentityTokenLifetime
	}
	if c.RefreshTokenLifetime == 0 {
		c.RefreshTokenLifetime = DefaultRefreshTokenLifetime
	}
	if c.AuthorizationCodeLifetime == 0 {
		c.AuthorizationCodeLifetime = DefaultAuthorizationCodeLifetime
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Provider == nil {
		c.Provider = &events.Provider{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	type slot struct {
		codec    *tokens.Codec
		usage    string
		lifetime time.Duration
	}
	for _, s := range []slot{
		{&c.AccessTokenCodec, ticket.UsageAccessToken, c.AccessTokenLifetime},
		{&c.IdentityTokenCodec, ticket.UsageIdentityToken, c.IdentityTokenLifetime},
		{&c.RefreshTokenCodec, ticket.UsageRefreshToken, c.RefreshTokenLifetime},
		{&c.AuthorizationCodeCodec, ticket.UsageAuthorizationCode, c.AuthorizationCodeLifetime},
	} {
		if *s.codec != nil {
			continue
		}
		if len(c.SigningCredentials) == 0 {
			return fmt.Errorf("no codec configured for %s tokens and no signing credentials to build one", s.usage)
		}
		*s.codec = &tokens.JWTCodec{
			Usage:           s.usage,
			Issuer:          c.Issuer,
			Lifetime:        s.lifetime,
			IncludeIssuedAt: c.IncludeIssuedAt,
			Credentials:     c.SigningCredentials,
			Clock:           c.Clock,
		}
	}
	return nil
}
