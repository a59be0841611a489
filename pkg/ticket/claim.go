// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ticket defines the authentication ticket: a principal with its
// claims plus a property bag carrying the authorization decision (audiences,
// presenters, resources, scopes, usage, expiry). Tickets are what the token
// codecs serialize into authorization codes, access tokens, identity tokens
// and refresh tokens.
package ticket

import "strings"

// ClaimTypeSubject is the claim type carrying the subject identifier.
// It maps to the "sub" claim of minted JWTs.
const ClaimTypeSubject = "sub"

// DestinationProperty is the claim property listing the token kinds a claim
// may be copied into, as a space-separated set (e.g. "access_token id_token").
// A claim without this property stays private to the ticket.
const DestinationProperty = "destination"

// Claim is a single statement about an identity.
type Claim struct {
	Type       string            `json:"type"`
	Value      string            `json:"value"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NewClaim returns a claim with the given type and value.
func NewClaim(claimType, value string) Claim {
	return Claim{Type: claimType, Value: value}
}

// Property returns the named claim property, or "" if absent.
func (c Claim) Property(name string) string {
	return c.Properties[name]
}

// WithProperty returns a copy of the claim with the named property set.
func (c Claim) WithProperty(name, value string) Claim {
	out := c.clone()
	if out.Properties == nil {
		out.Properties = make(map[string]string, 1)
	}
	out.Properties[name] = value
	return out
}

// WithDestinations returns a copy of the claim destined for the given token
// kinds.
func (c Claim) WithDestinations(destinations ...string) Claim {
	return c.WithProperty(DestinationProperty, strings.Join(destinations, " "))
}

// HasDestination reports whether the claim's destination set contains the
// given destination. Membership is ordinal on the space-split value.
func (c Claim) HasDestination(destination string) bool {
	dst := c.Properties[DestinationProperty]
	if dst == "" || destination == "" {
		return false
	}
	for _, d := range strings.Split(dst, " ") {
		if d == destination {
			return true
		}
	}
	return false
}

// clone deep-copies the claim, including its property map.
func (c Claim) clone() Claim {
	out := c
	if c.Properties != nil {
		out.Properties = make(map[string]string, len(c.Properties))
		for k, v := range c.Properties {
			out.Properties[k] = v
		}
	}
	return out
}
