// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package ticket

// Identity is a set of claims describing one authenticated party. An
// identity may carry an actor identity, forming a delegation chain
// (RFC 8693 Section 4.1); the chain is a linked list, never a cycle.
type Identity struct {
	Claims []Claim   `json:"claims,omitempty"`
	Actor  *Identity `json:"actor,omitempty"`
}

// NewIdentity returns an identity holding the given claims.
func NewIdentity(claims ...Claim) *Identity {
	return &Identity{Claims: claims}
}

// AddClaim appends a claim to the identity.
func (i *Identity) AddClaim(c Claim) {
	i.Claims = append(i.Claims, c)
}

// FindFirst returns the value of the first claim with the given type.
func (i *Identity) FindFirst(claimType string) (string, bool) {
	for _, c := range i.Claims {
		if c.Type == claimType {
			return c.Value, true
		}
	}
	return "", false
}

// Subject returns the identity's subject claim, or "" if absent.
func (i *Identity) Subject() string {
	sub, _ := i.FindFirst(ClaimTypeSubject)
	return sub
}

// Clone produces an independent copy of the identity holding only the
// claims accepted by filter. The filter is applied transitively through the
// actor chain. A nil filter keeps every claim. Mutating the clone never
// observes through to the original.
func (i *Identity) Clone(filter func(Claim) bool) *Identity {
	if i == nil {
		return nil
	}
	out := &Identity{}
	for _, c := range i.Claims {
		if filter == nil || filter(c) {
			out.Claims = append(out.Claims, c.clone())
		}
	}
	out.Actor = i.Actor.Clone(filter)
	return out
}

// Principal aggregates one or more identities. The first identity is the
// primary one; its subject claim becomes the subject of minted tokens.
type Principal struct {
	Identities []*Identity `json:"identities,omitempty"`
}

// NewPrincipal returns a principal over the given identities.
func NewPrincipal(identities ...*Identity) *Principal {
	return &Principal{Identities: identities}
}

// Primary returns the principal's first identity, or nil if it has none.
func (p *Principal) Primary() *Identity {
	if p == nil || len(p.Identities) == 0 {
		return nil
	}
	return p.Identities[0]
}

// FindFirst returns the value of the first claim with the given type across
// all identities, in identity order.
func (p *Principal) FindFirst(claimType string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, id := range p.Identities {
		if v, ok := id.FindFirst(claimType); ok {
			return v, true
		}
	}
	return "", false
}

// Clone produces an independent principal holding only the claims accepted
// by filter, applied transitively through each identity's actor chain.
func (p *Principal) Clone(filter func(Claim) bool) *Principal {
	if p == nil {
		return nil
	}
	out := &Principal{Identities: make([]*Identity, 0, len(p.Identities))}
	for _, id := range p.Identities {
		out.Identities = append(out.Identities, id.Clone(filter))
	}
	return out
}
