// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quayside/oidcserver/pkg/events"
	"github.com/quayside/oidcserver/pkg/oidc"
	"github.com/quayside/oidcserver/pkg/ticket"
)

// tokenTransaction carries the request-scoped state of one token request
// through the driver. The driver is strictly sequential within a request;
// concurrent requests never share a transaction.
type tokenTransaction struct {
	request *oidc.Message

	// clientValidated records whether ValidateClientAuthentication
	// validated the client in this request.
	clientValidated bool

	// sourceExpiry is the expiry of the reconstructed authorization-code
	// or refresh-token ticket, kept for the sliding-expiration clamp.
	sourceExpiry time.Time

	// ticket is the granted ticket the outbound tokens are minted from.
	ticket *ticket.Ticket
}

// TokenHandler handles POST requests to the token endpoint. It drives the
// request through parsing, client authentication, grant resolution and
// token minting, dispatching to the host's extension handlers at each
// step. Cancellation of the request context is honored at every
// suspension point: no response is written after an abort.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(w, oidc.ErrInvalidRequest.WithDescription("The token request must use the POST method"))
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		h.writeError(w, oidc.ErrInvalidRequest.WithDescription("The mandatory Content-Type header was missing"))
		return
	}
	// Parameters after ";" (charset, boundary) are allowed.
	if !strings.HasPrefix(strings.ToLower(contentType), "application/x-www-form-urlencoded") {
		h.writeError(w, oidc.ErrInvalidRequest.WithDescription("The Content-Type header must be application/x-www-form-urlencoded"))
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, oidc.ErrInvalidRequest.WithDescription("The request body could not be parsed"))
		return
	}
	if ctx.Err() != nil {
		return
	}
	req := oidc.FromForm(r.PostForm)

	if perr := validateGrantParameters(req); perr != nil {
		h.writeError(w, perr)
		return
	}

	resolveClientCredentials(r, req)

	clientAuth := events.NewClientAuthenticationEvent(req)
	if fn := h.provider.ValidateClientAuthentication; fn != nil {
		if err := fn(ctx, clientAuth); err != nil {
			h.serverFault(w, "ValidateClientAuthentication", err)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	switch {
	case clientAuth.IsRejected():
		h.writeError(w, clientAuth.ProtocolError())
		return
	case clientAuth.IsValidated():
		if clientAuth.ClientID == "" {
			h.logger.Error("client authentication was validated without a client_id")
			h.writeError(w, oidc.ErrServerError)
			return
		}
		req.Set(oidc.ParamClientID, clientAuth.ClientID)
	default:
		// Skipped or unhandled: the client stays unauthenticated, which
		// client_credentials does not allow.
		if req.IsClientCredentialsGrantType() {
			h.writeError(w, oidc.ErrInvalidGrant.WithDescription(
				"client authentication is required when using client_credentials"))
			return
		}
	}

	tx := &tokenTransaction{request: req, clientValidated: clientAuth.IsValidated()}
	if req.IsAuthorizationCodeGrantType() || req.IsRefreshTokenGrantType() {
		h.serveReconstructedGrant(ctx, w, tx)
		return
	}
	h.serveDirectGrant(ctx, w, tx)
}

// validateGrantParameters enforces the per-grant mandatory parameters.
func validateGrantParameters(req *oidc.Message) *oidc.Error {
	switch {
	case req.GrantType() == "":
		return oidc.ErrInvalidRequest.WithDescription("The mandatory grant_type parameter was missing")
	case req.IsAuthorizationCodeGrantType() && req.Code() == "":
		return oidc.ErrInvalidRequest.WithDescription("The mandatory code parameter was missing")
	case req.IsRefreshTokenGrantType() && req.RefreshToken() == "":
		return oidc.ErrInvalidRequest.WithDescription("The mandatory refresh_token parameter was missing")
	case req.IsPasswordGrantType() && (req.Username() == "" || req.Password() == ""):
		return oidc.ErrInvalidRequest.WithDescription("The mandatory username and password parameters were missing")
	default:
		return nil
	}
}

// resolveClientCredentials populates client_id and client_secret from the
// Basic Authorization header when the body carries neither. Malformed
// headers are ignored and the request proceeds unauthenticated.
func resolveClientCredentials(r *http.Request, req *oidc.Message) {
	if req.ClientID() != "" || req.ClientSecret() != "" {
		return
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Basic ") {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return
	}
	clientID, clientSecret, ok := strings.Cut(string(raw), ":")
	if !ok {
		return
	}
	req.Set(oidc.ParamClientID, clientID)
	req.Set(oidc.ParamClientSecret, clientSecret)
}

// serveDirectGrant handles the grants that do not reconstruct a prior
// ticket: password, client_credentials and custom extensions.
func (h *Handler) serveDirectGrant(ctx context.Context, w http.ResponseWriter, tx *tokenTransaction) {
	req := tx.request

	validation := events.NewTokenRequestEvent(req, nil)
	if fn := h.provider.ValidateTokenRequest; fn != nil {
		if err := fn(ctx, validation); err != nil {
			h.serverFault(w, "ValidateTokenRequest", err)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if validation.IsRejected() {
		h.writeError(w, validation.ProtocolError())
		return
	}

	var (
		grant   *events.GrantEvent
		handler func(context.Context, *events.GrantEvent) error
		name    string
	)
	switch {
	case req.IsPasswordGrantType():
		grant = events.NewGrantResourceOwnerCredentialsEvent(req)
		handler = h.provider.GrantResourceOwnerCredentials
		name = "GrantResourceOwnerCredentials"
	case req.IsClientCredentialsGrantType():
		grant = events.NewGrantClientCredentialsEvent(req)
		handler = h.provider.GrantClientCredentials
		name = "GrantClientCredentials"
	default:
		grant = events.NewGrantCustomExtensionEvent(req)
		handler = h.provider.GrantCustomExtension
		name = "GrantCustomExtension"
	}
	if handler != nil {
		if err := handler(ctx, grant); err != nil {
			h.serverFault(w, name, err)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if !grant.IsValidated() || grant.Ticket == nil {
		h.writeError(w, grant.ProtocolError())
		return
	}

	tx.ticket = grant.Ticket
	h.completeTokenRequest(ctx, w, tx)
}

// serveReconstructedGrant handles the authorization_code and refresh_token
// grants: it deserializes the prior ticket, cross-checks it against the
// request, and dispatches the grant event with a copy of the ticket.
func (h *Handler) serveReconstructedGrant(ctx context.Context, w http.ResponseWriter, tx *tokenTransaction) {
	req := tx.request
	isCode := req.IsAuthorizationCodeGrantType()

	codec, value := h.cfg.RefreshTokenCodec, req.RefreshToken()
	if isCode {
		codec, value = h.cfg.AuthorizationCodeCodec, req.Code()
	}
	t, err := codec.Deserialize(ctx, value)
	if err != nil || t == nil {
		if err != nil {
			h.logger.Debug("ticket deserialization failed",
				"grant_type", req.GrantType(),
				"error", err,
			)
		}
		h.writeError(w, oidc.ErrInvalidGrant.WithDescription("Invalid ticket"))
		return
	}
	if ctx.Err() != nil {
		return
	}

	if t.ExpiresAt.IsZero() || !t.ExpiresAt.After(h.clock.Now()) {
		h.writeError(w, oidc.ErrInvalidGrant.WithDescription("Expired ticket"))
		return
	}
	tx.sourceExpiry = t.ExpiresAt

	if !isCode && !tx.clientValidated && t.IsConfidential() {
		h.writeError(w, oidc.ErrInvalidGrant.WithDescription(
			"Client authentication is required to refresh this token"))
		return
	}

	presenters := t.GetPresenters()
	if len(presenters) == 0 && isCode {
		// The authorization endpoint always records the presenting
		// client on a code; a code without one is a server defect.
		h.logger.Error("authorization code ticket contains no presenters")
		h.writeError(w, oidc.ErrServerError)
		return
	}
	if isCode && req.ClientID() == "" {
		h.writeError(w, oidc.ErrInvalidRequest.WithDescription("The mandatory client_id parameter was missing"))
		return
	}
	if req.ClientID() != "" && len(presenters) > 0 && !t.HasPresenter(req.ClientID()) {
		h.writeError(w, oidc.ErrInvalidGrant.WithDescription("Ticket does not contain matching client_id"))
		return
	}

	if isCode {
		if stored := t.GetRedirectURI(); stored != "" {
			// The binding is single-use: the property never flows into
			// outbound tokens, whatever the outcome.
			t.RemoveProperty(ticket.PropertyRedirectURI)
			switch {
			case req.RedirectURI() == "":
				h.writeError(w, oidc.ErrInvalidRequest.WithDescription("The mandatory redirect_uri parameter was missing"))
				return
			case req.RedirectURI() != stored:
				h.writeError(w, oidc.ErrInvalidGrant.WithDescription(
					"Authorization code does not contain matching redirect_uri"))
				return
			}
		}
	}

	if req.Resource() != "" {
		stored := t.GetResources()
		if len(stored) == 0 {
			h.writeError(w, oidc.ErrInvalidGrant.WithDescription(
				"Token request contains a resource parameter but the ticket has none"))
			return
		}
		requested := req.GetResources()
		if !isSubset(stored, requested) {
			h.writeError(w, oidc.ErrInvalidGrant.WithDescription("Token request contains an invalid resource parameter"))
			return
		}
		if err := t.SetResources(requested...); err != nil {
			h.logger.Error("failed to narrow ticket resources", "error", err)
			h.writeError(w, oidc.ErrServerError)
			return
		}
	}
	if req.Scope() != "" {
		stored := t.GetScopes()
		if len(stored) == 0 {
			h.writeError(w, oidc.ErrInvalidGrant.WithDescription(
				"Token request contains a scope parameter but the ticket has none"))
			return
		}
		requested := req.GetScopes()
		if !isSubset(stored, requested) {
			h.writeError(w, oidc.ErrInvalidGrant.WithDescription("Token request contains an invalid scope parameter"))
			return
		}
		if err := t.SetScopes(requested...); err != nil {
			h.logger.Error("failed to narrow ticket scopes", "error", err)
			h.writeError(w, oidc.ErrServerError)
			return
		}
	}

	validation := events.NewTokenRequestEvent(req, t)
	if fn := h.provider.ValidateTokenRequest; fn != nil {
		if err := fn(ctx, validation); err != nil {
			h.serverFault(w, "ValidateTokenRequest", err)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if validation.IsRejected() {
		h.writeError(w, validation.ProtocolError())
		return
	}

	// The grant handler works on a copy so its mutations never leak into
	// the stored code/refresh-token ticket.
	granted := t.Copy()
	issuedBefore, expiresBefore := granted.IssuedAt, granted.ExpiresAt

	var (
		grant   *events.GrantEvent
		handler func(context.Context, *events.GrantEvent) error
		name    string
	)
	if isCode {
		grant = events.NewGrantAuthorizationCodeEvent(req, granted)
		handler = h.provider.GrantAuthorizationCode
		name = "GrantAuthorizationCode"
	} else {
		grant = events.NewGrantRefreshTokenEvent(req, granted)
		handler = h.provider.GrantRefreshToken
		name = "GrantRefreshToken"
	}
	if handler != nil {
		if err := handler(ctx, grant); err != nil {
			h.serverFault(w, name, err)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if !grant.IsValidated() {
		h.writeError(w, grant.ProtocolError())
		return
	}
	final := grant.Ticket
	if final == nil {
		h.logger.Error("grant handler removed the ticket", "handler", name)
		h.writeError(w, oidc.ErrServerError)
		return
	}

	// Unless the handler explicitly adjusted the validity window, reset
	// it so outbound token lifetimes are recomputed from configuration
	// instead of staying anchored to the code/refresh-token lifetime.
	if final.IssuedAt.Equal(issuedBefore) && final.ExpiresAt.Equal(expiresBefore) {
		final.IssuedAt = time.Time{}
		final.ExpiresAt = time.Time{}
	}

	tx.ticket = final
	h.completeTokenRequest(ctx, w, tx)
}

// completeTokenRequest runs the post-grant extension points, mints the
// outbound tokens and writes the JSON response.
func (h *Handler) completeTokenRequest(ctx context.Context, w http.ResponseWriter, tx *tokenTransaction) {
	req := tx.request

	endpoint := events.NewTokenEndpointEvent(req, tx.ticket)
	if fn := h.provider.TokenEndpoint; fn != nil {
		if err := fn(ctx, endpoint); err != nil {
			h.serverFault(w, "TokenEndpoint", err)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if endpoint.IsHandled() {
		return
	}
	t := endpoint.Ticket
	if t == nil {
		h.logger.Error("token endpoint handler removed the ticket")
		h.writeError(w, oidc.ErrServerError)
		return
	}

	if tx.clientValidated {
		t.SetConfidential()
	}
	if !t.HasProperty(ticket.PropertyScopes) && req.HasScope(oidc.ScopeOpenID) {
		_ = t.SetScopes(oidc.ScopeOpenID)
	}

	selector := ""
	if h.cfg.EnableResponseTypeSelection {
		selector = req.ResponseType()
	}

	response := oidc.NewMessage()
	now := h.clock.Now()

	if selectorAllows(selector, oidc.ResponseTypeToken) {
		accessTicket := t.Copy()
		accessTicket.Principal = t.Principal.Clone(destinationFilter(ticket.UsageAccessToken))
		accessTicket.SetUsage(ticket.UsageAccessToken)
		h.applyLifetime(accessTicket, now, h.cfg.AccessTokenLifetime, tx)

		value, err := h.cfg.AccessTokenCodec.Serialize(ctx, accessTicket)
		if err != nil {
			h.logger.Error("failed to serialize access token", "error", err)
			h.writeError(w, oidc.ErrServerError)
			return
		}
		response.Set(oidc.ParamAccessToken, value)
		response.Set(oidc.ParamTokenType, oidc.TokenTypeBearer)
		response.Set(oidc.ParamExpiresIn, formatExpiresIn(accessTicket.ExpiresAt.Sub(now)))
	}

	if t.HasScope(oidc.ScopeOpenID) && selectorAllows(selector, oidc.ResponseTypeIDToken) {
		identityTicket := t.Copy()
		identityTicket.Principal = t.Principal.Clone(destinationFilter(ticket.UsageIdentityToken))
		identityTicket.SetUsage(ticket.UsageIdentityToken)
		h.applyLifetime(identityTicket, now, h.cfg.IdentityTokenLifetime, tx)

		value, err := h.cfg.IdentityTokenCodec.Serialize(ctx, identityTicket)
		if err != nil {
			h.logger.Error("failed to serialize identity token", "error", err)
			h.writeError(w, oidc.ErrServerError)
			return
		}
		response.Set(oidc.ParamIDToken, value)
	}

	if t.HasScope(oidc.ScopeOfflineAccess) && selectorAllows(selector, oidc.ParamRefreshToken) {
		// Refresh tokens keep the full principal so nothing is lost on
		// the next exchange.
		refreshTicket := t.Copy()
		refreshTicket.SetUsage(ticket.UsageRefreshToken)
		h.applyLifetime(refreshTicket, now, h.cfg.RefreshTokenLifetime, tx)

		value, err := h.cfg.RefreshTokenCodec.Serialize(ctx, refreshTicket)
		if err != nil {
			h.logger.Error("failed to serialize refresh token", "error", err)
			h.writeError(w, oidc.ErrServerError)
			return
		}
		response.Set(oidc.ParamRefreshToken, value)
	}
	if ctx.Err() != nil {
		return
	}

	h.echoGrantedParameters(req, t, response)

	responseEvent := events.NewTokenResponseEvent(req, response)
	if fn := h.provider.TokenEndpointResponse; fn != nil {
		if err := fn(ctx, responseEvent); err != nil {
			h.serverFault(w, "TokenEndpointResponse", err)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if responseEvent.IsHandled() {
		return
	}
	if responseEvent.Response != nil {
		response = responseEvent.Response
	}
	h.writeJSON(w, response.Parameters())
}

// echoGrantedParameters applies the response-parameter economy: an
// authorization_code grant always echoes the granted scope and resource;
// a refresh_token grant echoes them only when the request's explicit
// parameter differs from the granted set; the remaining grants echo
// whenever the granted set differs from the requested one
// (RFC 6749 Section 5.1).
func (h *Handler) echoGrantedParameters(req *oidc.Message, t *ticket.Ticket, response *oidc.Message) {
	scopes, resources := t.GetScopes(), t.GetResources()

	switch {
	case req.IsAuthorizationCodeGrantType():
		if t.HasProperty(ticket.PropertyScopes) {
			response.Set(oidc.ParamScope, strings.Join(scopes, " "))
		}
		if t.HasProperty(ticket.PropertyResources) {
			response.Set(oidc.ParamResource, strings.Join(resources, " "))
		}
	case req.IsRefreshTokenGrantType():
		if req.Scope() != "" && !sameSet(req.GetScopes(), scopes) {
			response.Set(oidc.ParamScope, strings.Join(scopes, " "))
		}
		if req.Resource() != "" && !sameSet(req.GetResources(), resources) {
			response.Set(oidc.ParamResource, strings.Join(resources, " "))
		}
	default:
		if len(scopes) > 0 && !sameSet(req.GetScopes(), scopes) {
			response.Set(oidc.ParamScope, strings.Join(scopes, " "))
		}
		if len(resources) > 0 && !sameSet(req.GetResources(), resources) {
			response.Set(oidc.ParamResource, strings.Join(resources, " "))
		}
	}
}

// applyLifetime finalizes an outbound ticket's validity window. A ticket
// that kept its own timestamps preserves them, except that with sliding
// expiration disabled a refresh_token grant clamps the expiry to
// min(now+lifetime, the source refresh token's expiry).
func (h *Handler) applyLifetime(t *ticket.Ticket, now time.Time, lifetime time.Duration, tx *tokenTransaction) {
	if t.IssuedAt.IsZero() {
		t.IssuedAt = now
	}
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = t.IssuedAt.Add(lifetime)
	}
	if !h.cfg.UseSlidingExpiration && tx.request.IsRefreshTokenGrantType() && !tx.sourceExpiry.IsZero() {
		expiry := now.Add(lifetime)
		if tx.sourceExpiry.Before(expiry) {
			expiry = tx.sourceExpiry
		}
		t.ExpiresAt = expiry
	}
}

// formatExpiresIn renders a lifetime as the decimal expires_in value,
// rounded to the nearest second.
func formatExpiresIn(lifetime time.Duration) string {
	return strconv.FormatInt(int64(lifetime.Seconds()+0.5), 10)
}

// selectorAllows reports whether the response_type selector permits the
// given token kind. An empty selector permits everything.
func selectorAllows(selector, kind string) bool {
	if selector == "" {
		return true
	}
	for _, v := range strings.Split(selector, " ") {
		if v == kind {
			return true
		}
	}
	return false
}

// destinationFilter keeps the claims destined for the given token kind.
// The subject claim always survives so the token's subject stays defined.
func destinationFilter(destination string) func(ticket.Claim) bool {
	return func(c ticket.Claim) bool {
		return c.Type == ticket.ClaimTypeSubject || c.HasDestination(destination)
	}
}

// isSubset reports whether every element of requested is present in
// stored, by ordinal equality.
func isSubset(stored, requested []string) bool {
	set := make(map[string]struct{}, len(stored))
	for _, s := range stored {
		set[s] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// sameSet reports whether two element lists contain the same members,
// ignoring order and duplicates.
func sameSet(a, b []string) bool {
	return isSubset(a, b) && isSubset(b, a)
}
