// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"errors"
	"strings"
	"time"
)

// Reserved property keys. The leading dot keeps them out of the way of
// host-defined properties.
const (
	PropertyAudiences    = ".audiences"
	PropertyConfidential = ".confidential"
	PropertyNonce        = ".nonce"
	PropertyPresenters   = ".presenters"
	PropertyRedirectURI  = ".redirect_uri"
	PropertyResources    = ".resources"
	PropertyScopes       = ".scopes"
	PropertyUsage        = ".usage"
)

// Usage values describing what a serialized ticket is. Comparisons on usage
// are case-insensitive.
const (
	UsageAuthorizationCode = "code"
	UsageAccessToken       = "access_token"
	UsageIdentityToken     = "id_token"
	UsageRefreshToken      = "refresh_token"
)

// ErrListValueContainsSpace is returned when an element written to a
// list-valued property contains a space, which would corrupt the
// space-joined encoding.
var ErrListValueContainsSpace = errors.New("list property element contains a space")

// Ticket is an authentication ticket: a principal plus the properties of
// the authorization decision. List-valued properties are stored as
// space-joined strings; this protocol-driven encoding is preserved
// bit-exactly on the wire.
type Ticket struct {
	Principal  *Principal        `json:"principal,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`

	// IssuedAt and ExpiresAt are optional; the zero value means unset.
	IssuedAt  time.Time `json:"issued_utc,omitzero"`
	ExpiresAt time.Time `json:"expires_utc,omitzero"`
}

// New returns a ticket over the given principal with an empty property bag.
func New(p *Principal) *Ticket {
	return &Ticket{Principal: p, Properties: make(map[string]string)}
}

// Copy returns a ticket with a deep copy of the property bag and
// timestamps. The principal is shared by reference: it is treated as
// immutable for the duration of a request, and handlers that need to
// change it use Principal.Clone.
func (t *Ticket) Copy() *Ticket {
	out := &Ticket{
		Principal: t.Principal,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
	}
	out.Properties = make(map[string]string, len(t.Properties))
	for k, v := range t.Properties {
		out.Properties[k] = v
	}
	return out
}

// Property returns the named property, or "" if absent.
func (t *Ticket) Property(key string) string {
	return t.Properties[key]
}

// HasProperty reports whether the named property is present.
func (t *Ticket) HasProperty(key string) bool {
	_, ok := t.Properties[key]
	return ok
}

// SetProperty stores a property value. An empty value removes the entry.
func (t *Ticket) SetProperty(key, value string) {
	if t.Properties == nil {
		t.Properties = make(map[string]string)
	}
	if value == "" {
		delete(t.Properties, key)
		return
	}
	t.Properties[key] = value
}

// RemoveProperty deletes the named property.
func (t *Ticket) RemoveProperty(key string) {
	delete(t.Properties, key)
}

// List-valued property accessors.

// GetAudiences returns the deduplicated audience set.
func (t *Ticket) GetAudiences() []string { return splitList(t.Property(PropertyAudiences)) }

// GetPresenters returns the deduplicated presenter set.
func (t *Ticket) GetPresenters() []string { return splitList(t.Property(PropertyPresenters)) }

// GetResources returns the deduplicated resource set.
func (t *Ticket) GetResources() []string { return splitList(t.Property(PropertyResources)) }

// GetScopes returns the deduplicated scope set.
func (t *Ticket) GetScopes() []string { return splitList(t.Property(PropertyScopes)) }

// SetAudiences stores the audience set as a deduplicated space-joined
// string. It fails if any element contains a space.
func (t *Ticket) SetAudiences(audiences ...string) error {
	return t.setList(PropertyAudiences, audiences)
}

// SetPresenters stores the presenter set.
func (t *Ticket) SetPresenters(presenters ...string) error {
	return t.setList(PropertyPresenters, presenters)
}

// SetResources stores the resource set.
func (t *Ticket) SetResources(resources ...string) error {
	return t.setList(PropertyResources, resources)
}

// SetScopes stores the scope set.
func (t *Ticket) SetScopes(scopes ...string) error {
	return t.setList(PropertyScopes, scopes)
}

// HasAudience reports ordinal membership in the audience set.
func (t *Ticket) HasAudience(v string) bool { return t.hasListMember(PropertyAudiences, v) }

// HasPresenter reports ordinal membership in the presenter set.
func (t *Ticket) HasPresenter(v string) bool { return t.hasListMember(PropertyPresenters, v) }

// HasResource reports ordinal membership in the resource set.
func (t *Ticket) HasResource(v string) bool { return t.hasListMember(PropertyResources, v) }

// HasScope reports ordinal membership in the scope set.
func (t *Ticket) HasScope(v string) bool { return t.hasListMember(PropertyScopes, v) }

// GetUsage returns the ticket's usage value.
func (t *Ticket) GetUsage() string { return t.Property(PropertyUsage) }

// SetUsage stores the ticket's usage value.
func (t *Ticket) SetUsage(usage string) { t.SetProperty(PropertyUsage, usage) }

// IsAuthorizationCode reports whether the ticket's usage is "code".
func (t *Ticket) IsAuthorizationCode() bool { return t.usageIs(UsageAuthorizationCode) }

// IsAccessToken reports whether the ticket's usage is "access_token".
func (t *Ticket) IsAccessToken() bool { return t.usageIs(UsageAccessToken) }

// IsIdentityToken reports whether the ticket's usage is "id_token".
func (t *Ticket) IsIdentityToken() bool { return t.usageIs(UsageIdentityToken) }

// IsRefreshToken reports whether the ticket's usage is "refresh_token".
func (t *Ticket) IsRefreshToken() bool { return t.usageIs(UsageRefreshToken) }

// IsConfidential reports whether the ticket originated from a
// client-authenticated request.
func (t *Ticket) IsConfidential() bool {
	return strings.EqualFold(t.Property(PropertyConfidential), "true")
}

// SetConfidential marks the ticket as issued to an authenticated client.
func (t *Ticket) SetConfidential() {
	t.SetProperty(PropertyConfidential, "true")
}

// GetNonce returns the nonce recorded from the authorization request.
func (t *Ticket) GetNonce() string { return t.Property(PropertyNonce) }

// SetNonce records the nonce from the authorization request.
func (t *Ticket) SetNonce(nonce string) { t.SetProperty(PropertyNonce, nonce) }

// GetRedirectURI returns the redirect_uri the ticket was bound to.
func (t *Ticket) GetRedirectURI() string { return t.Property(PropertyRedirectURI) }

// SetRedirectURI binds the ticket to a redirect_uri.
func (t *Ticket) SetRedirectURI(uri string) { t.SetProperty(PropertyRedirectURI, uri) }

func (t *Ticket) usageIs(usage string) bool {
	return strings.EqualFold(t.Property(PropertyUsage), usage)
}

// setList validates, deduplicates and space-joins the elements. An empty
// element set removes the entry.
func (t *Ticket) setList(key string, elems []string) error {
	out := make([]string, 0, len(elems))
	seen := make(map[string]struct{}, len(elems))
	for _, e := range elems {
		if strings.Contains(e, " ") {
			return ErrListValueContainsSpace
		}
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	t.SetProperty(key, strings.Join(out, " "))
	return nil
}

// hasListMember reports ordinal membership on the space-split value,
// without deduplication.
func (t *Ticket) hasListMember(key, v string) bool {
	value := t.Property(key)
	if value == "" || v == "" {
		return false
	}
	for _, e := range strings.Split(value, " ") {
		if e == v {
			return true
		}
	}
	return false
}

// splitList splits a space-joined property into its elements, dropping
// empties and deduplicating by ordinal equality.
func splitList(value string) []string {
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
