// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package oidc

// Well-known OAuth 2.0 / OIDC parameter names (RFC 6749, OIDC Core 1.0).
const (
	ParamAccessToken      = "access_token"
	ParamClientID         = "client_id"
	ParamClientSecret     = "client_secret"
	ParamCode             = "code"
	ParamError            = "error"
	ParamErrorDescription = "error_description"
	ParamErrorURI         = "error_uri"
	ParamExpiresIn        = "expires_in"
	ParamGrantType        = "grant_type"
	ParamIDToken          = "id_token"
	ParamPassword         = "password"
	ParamRedirectURI      = "redirect_uri"
	ParamRefreshToken     = "refresh_token"
	ParamResource         = "resource"
	ParamResponseMode     = "response_mode"
	ParamResponseType     = "response_type"
	ParamScope            = "scope"
	ParamState            = "state"
	ParamTokenType        = "token_type"
	ParamUsername         = "username"
)

// Grant type values (RFC 6749 Section 4).
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
)

// Response type values (RFC 6749 Section 3.1.1, OIDC Core Section 3).
const (
	ResponseTypeCode    = "code"
	ResponseTypeIDToken = "id_token"
	ResponseTypeNone    = "none"
	ResponseTypeToken   = "token"
)

// Response mode values (OAuth 2.0 Multiple Response Type Encoding Practices).
const (
	ResponseModeFormPost = "form_post"
	ResponseModeFragment = "fragment"
	ResponseModeQuery    = "query"
)

// Scope values with protocol-level meaning (OIDC Core Section 5.4, Section 11).
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// Token type values.
const (
	TokenTypeBearer = "Bearer"
)

// Error codes defined by RFC 6749 Section 5.2 and Section 4.1.2.1.
// These are case-sensitive protocol tokens.
const (
	ErrorInvalidClient           = "invalid_client"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorInvalidRequest          = "invalid_request"
	ErrorInvalidScope            = "invalid_scope"
	ErrorServerError             = "server_error"
	ErrorTemporarilyUnavailable  = "temporarily_unavailable"
	ErrorUnauthorizedClient      = "unauthorized_client"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorUnsupportedResponseType = "unsupported_response_type"
)
