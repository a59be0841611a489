// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package oidc

// IsAuthorizationCodeFlow reports whether response_type is exactly "code".
func (m *Message) IsAuthorizationCodeFlow() bool {
	return m.ResponseType() == ResponseTypeCode
}

// IsNoneFlow reports whether response_type is exactly "none".
func (m *Message) IsNoneFlow() bool {
	return m.ResponseType() == ResponseTypeNone
}

// IsImplicitFlow reports whether the response_type set is exactly one of
// {id_token}, {token} or {id_token, token} (OIDC Core Section 3.2).
func (m *Message) IsImplicitFlow() bool {
	set := m.responseTypeSet()
	switch len(set) {
	case 1:
		return set[ResponseTypeIDToken] || set[ResponseTypeToken]
	case 2:
		return set[ResponseTypeIDToken] && set[ResponseTypeToken]
	default:
		return false
	}
}

// IsHybridFlow reports whether the response_type set is exactly one of
// {code, id_token}, {code, token} or {code, id_token, token}
// (OIDC Core Section 3.3).
func (m *Message) IsHybridFlow() bool {
	set := m.responseTypeSet()
	if !set[ResponseTypeCode] {
		return false
	}
	switch len(set) {
	case 2:
		return set[ResponseTypeIDToken] || set[ResponseTypeToken]
	case 3:
		return set[ResponseTypeIDToken] && set[ResponseTypeToken]
	default:
		return false
	}
}

// responseTypeSet returns the deduplicated response_type membership set.
func (m *Message) responseTypeSet() map[string]bool {
	elems := SplitList(m.ResponseType())
	set := make(map[string]bool, len(elems))
	for _, e := range elems {
		set[e] = true
	}
	return set
}

// IsFragmentResponseMode reports whether the response parameters should be
// returned in the URI fragment. This is the case when response_mode is
// exactly "fragment", or when response_mode is unset and the request uses
// the implicit or hybrid flow. An explicit non-fragment mode suppresses
// the inference.
func (m *Message) IsFragmentResponseMode() bool {
	switch m.ResponseMode() {
	case ResponseModeFragment:
		return true
	case "":
		return m.IsImplicitFlow() || m.IsHybridFlow()
	default:
		return false
	}
}

// IsQueryResponseMode reports whether the response parameters should be
// returned in the query string. This is the default when response_mode is
// unset and the request uses the authorization code or none flow.
func (m *Message) IsQueryResponseMode() bool {
	switch m.ResponseMode() {
	case ResponseModeQuery:
		return true
	case "":
		return m.IsAuthorizationCodeFlow() || m.IsNoneFlow()
	default:
		return false
	}
}

// IsFormPostResponseMode reports whether response_mode is exactly "form_post".
func (m *Message) IsFormPostResponseMode() bool {
	return m.ResponseMode() == ResponseModeFormPost
}

// IsAuthorizationCodeGrantType reports whether grant_type is
// "authorization_code".
func (m *Message) IsAuthorizationCodeGrantType() bool {
	return m.GrantType() == GrantTypeAuthorizationCode
}

// IsRefreshTokenGrantType reports whether grant_type is "refresh_token".
func (m *Message) IsRefreshTokenGrantType() bool {
	return m.GrantType() == GrantTypeRefreshToken
}

// IsPasswordGrantType reports whether grant_type is "password".
func (m *Message) IsPasswordGrantType() bool {
	return m.GrantType() == GrantTypePassword
}

// IsClientCredentialsGrantType reports whether grant_type is
// "client_credentials".
func (m *Message) IsClientCredentialsGrantType() bool {
	return m.GrantType() == GrantTypeClientCredentials
}
