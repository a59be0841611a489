// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokens serializes authentication tickets to and from token
// strings. Two interchangeable codecs exist: a signed-JWT codec built on
// go-jose, and an opaque codec built on an authenticated-encryption data
// protector. Authorization codes, access tokens, identity tokens and
// refresh tokens are four instances of the same Codec capability, each
// bound to its usage value.
package tokens

import (
	"context"
	"errors"
	"time"

	"k8s.io/utils/clock"

	"github.com/quayside/oidcserver/pkg/ticket"
)

// Codec serializes a ticket to a token string and back. A codec instance
// is bound to one usage value; deserializing a token whose recorded usage
// does not match yields a nil ticket and ErrUsageMismatch.
type Codec interface {
	// Serialize encodes the ticket. The input is not mutated.
	Serialize(ctx context.Context, t *ticket.Ticket) (string, error)

	// Deserialize decodes and authenticates a token string.
	Deserialize(ctx context.Context, value string) (*ticket.Ticket, error)
}

// Codec errors.
var (
	// ErrUsageMismatch is returned when a token's recorded usage does not
	// match the codec's bound usage.
	ErrUsageMismatch = errors.New("token usage does not match codec usage")

	// ErrNoSigningKey is returned by the JWT codec when serialization is
	// attempted without signing credentials.
	ErrNoSigningKey = errors.New("no signing credentials configured")

	// ErrMissingSubject is returned when a ticket's principal carries no
	// subject claim, leaving the JWT subject undefined.
	ErrMissingSubject = errors.New("ticket principal has no subject claim")
)

// finalize copies the ticket, stamps the codec's usage and defaults the
// timestamps: issuance to now, expiry to issuance plus lifetime. Tickets
// whose timestamps are already set keep them.
func finalize(t *ticket.Ticket, usage string, lifetime time.Duration, clk clock.PassiveClock) *ticket.Ticket {
	out := t.Copy()
	out.SetUsage(usage)
	if out.IssuedAt.IsZero() {
		out.IssuedAt = clk.Now()
	}
	if out.ExpiresAt.IsZero() && lifetime > 0 {
		out.ExpiresAt = out.IssuedAt.Add(lifetime)
	}
	return out
}

// passiveClock defaults a nil clock to the real one.
func passiveClock(clk clock.PassiveClock) clock.PassiveClock {
	if clk == nil {
		return clock.RealClock{}
	}
	return clk
}
