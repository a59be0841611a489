// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import "context"

// Provider is the vtable of host callbacks the endpoint drivers dispatch
// to. Every field is optional; a nil callback leaves the corresponding
// event in its initial state, which the drivers interpret per extension
// point (for example, an unhandled grant fails with that event's default
// error code).
//
// Callbacks express protocol outcomes through the event object. A non-nil
// returned error signals a host-side fault, which the drivers report as
// server_error; it is not a way to reject a request.
type Provider struct {
	// ValidateClientAuthentication authenticates the requesting client.
	ValidateClientAuthentication func(ctx context.Context, e *ClientAuthenticationEvent) error

	// ValidateTokenRequest validates the token request. It runs before
	// grant dispatch for grants that do not reconstruct a prior ticket,
	// and after ticket reconstruction for authorization_code and
	// refresh_token grants.
	ValidateTokenRequest func(ctx context.Context, e *TokenRequestEvent) error

	// GrantAuthorizationCode resolves an authorization_code grant.
	GrantAuthorizationCode func(ctx context.Context, e *GrantEvent) error

	// GrantRefreshToken resolves a refresh_token grant.
	GrantRefreshToken func(ctx context.Context, e *GrantEvent) error

	// GrantResourceOwnerCredentials resolves a password grant.
	GrantResourceOwnerCredentials func(ctx context.Context, e *GrantEvent) error

	// GrantClientCredentials resolves a client_credentials grant.
	GrantClientCredentials func(ctx context.Context, e *GrantEvent) error

	// GrantCustomExtension resolves any other grant type.
	GrantCustomExtension func(ctx context.Context, e *GrantEvent) error

	// TokenEndpoint runs after the grant resolved, before tokens are
	// minted.
	TokenEndpoint func(ctx context.Context, e *TokenEndpointEvent) error

	// TokenEndpointResponse runs with the outgoing response parameters
	// before they are written.
	TokenEndpointResponse func(ctx context.Context, e *TokenResponseEvent) error
}
