// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oidc provides a typed view over an OAuth 2.0 / OpenID Connect
// parameter bag together with the flow, grant and response-mode classifiers
// used by the endpoint drivers. All comparisons on protocol tokens are
// case-sensitive ordinal, as required by RFC 6749; parameter *names* are
// case-insensitive.
package oidc

import (
	"net/url"
	"strings"
)

// Message is a case-insensitive mapping from parameter name to value.
// Unknown parameters are preserved, so extension parameters survive a
// round trip through the endpoint drivers.
//
// Multi-valued parameters (scope, resource, response_type, audiences,
// presenters) are represented as space-separated strings per the protocol.
type Message struct {
	params map[string]string
}

// NewMessage returns an empty message.
func NewMessage() *Message {
	return &Message{params: make(map[string]string)}
}

// FromForm builds a message from decoded form values. When a parameter is
// repeated, the first occurrence wins; multi-valued protocol parameters are
// expected as a single space-separated value.
func FromForm(values url.Values) *Message {
	m := NewMessage()
	for name, vals := range values {
		if len(vals) == 0 {
			continue
		}
		m.Set(name, vals[0])
	}
	return m
}

// Get returns the value of the named parameter, or "" if absent.
func (m *Message) Get(name string) string {
	return m.params[strings.ToLower(name)]
}

// Set stores a parameter value, replacing any previous value.
func (m *Message) Set(name, value string) {
	m.params[strings.ToLower(name)] = value
}

// Has reports whether the named parameter is present, even if empty.
func (m *Message) Has(name string) bool {
	_, ok := m.params[strings.ToLower(name)]
	return ok
}

// Remove deletes the named parameter.
func (m *Message) Remove(name string) {
	delete(m.params, strings.ToLower(name))
}

// Parameters returns a copy of the underlying parameter map. Names are
// reported in their canonical lower-case form.
func (m *Message) Parameters() map[string]string {
	out := make(map[string]string, len(m.params))
	for k, v := range m.params {
		out[k] = v
	}
	return out
}

// Typed accessors for the well-known parameters.

// GrantType returns the grant_type parameter.
func (m *Message) GrantType() string { return m.Get(ParamGrantType) }

// ResponseType returns the response_type parameter.
func (m *Message) ResponseType() string { return m.Get(ParamResponseType) }

// ResponseMode returns the response_mode parameter.
func (m *Message) ResponseMode() string { return m.Get(ParamResponseMode) }

// Scope returns the raw scope parameter.
func (m *Message) Scope() string { return m.Get(ParamScope) }

// Resource returns the raw resource parameter.
func (m *Message) Resource() string { return m.Get(ParamResource) }

// Code returns the code parameter.
func (m *Message) Code() string { return m.Get(ParamCode) }

// RefreshToken returns the refresh_token parameter.
func (m *Message) RefreshToken() string { return m.Get(ParamRefreshToken) }

// RedirectURI returns the redirect_uri parameter.
func (m *Message) RedirectURI() string { return m.Get(ParamRedirectURI) }

// Username returns the username parameter.
func (m *Message) Username() string { return m.Get(ParamUsername) }

// Password returns the password parameter.
func (m *Message) Password() string { return m.Get(ParamPassword) }

// ClientID returns the client_id parameter.
func (m *Message) ClientID() string { return m.Get(ParamClientID) }

// ClientSecret returns the client_secret parameter.
func (m *Message) ClientSecret() string { return m.Get(ParamClientSecret) }

// AccessToken returns the access_token parameter.
func (m *Message) AccessToken() string { return m.Get(ParamAccessToken) }

// IDToken returns the id_token parameter.
func (m *Message) IDToken() string { return m.Get(ParamIDToken) }

// TokenType returns the token_type parameter.
func (m *Message) TokenType() string { return m.Get(ParamTokenType) }

// ExpiresIn returns the expires_in parameter.
func (m *Message) ExpiresIn() string { return m.Get(ParamExpiresIn) }

// ErrorCode returns the error parameter.
func (m *Message) ErrorCode() string { return m.Get(ParamError) }

// ErrorDescription returns the error_description parameter.
func (m *Message) ErrorDescription() string { return m.Get(ParamErrorDescription) }

// ErrorURI returns the error_uri parameter.
func (m *Message) ErrorURI() string { return m.Get(ParamErrorURI) }

// GetScopes returns the space-split, deduplicated scope set.
// The result is empty when the parameter is absent.
func (m *Message) GetScopes() []string {
	return SplitList(m.Scope())
}

// GetResources returns the space-split, deduplicated resource set.
func (m *Message) GetResources() []string {
	return SplitList(m.Resource())
}

// HasScope reports whether v is a member of the space-split scope set.
func (m *Message) HasScope(v string) bool {
	return containsOrdinal(m.Scope(), v)
}

// HasResponseType reports whether v is a member of the space-split
// response_type set.
func (m *Message) HasResponseType(v string) bool {
	return containsOrdinal(m.ResponseType(), v)
}

// SplitList splits a space-separated parameter value into its elements,
// dropping empty elements and deduplicating by ordinal equality.
// Insertion order of the first occurrence is preserved.
func SplitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, " ")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// containsOrdinal reports membership of v in the space-split value,
// without deduplication.
func containsOrdinal(value, v string) bool {
	if value == "" || v == "" {
		return false
	}
	for _, p := range strings.Split(value, " ") {
		if p == v {
			return true
		}
	}
	return false
}
