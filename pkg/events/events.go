// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events defines the extension protocol between the endpoint
// drivers and the host application. Every extension point is an event
// object carrying a tri-state outcome (validated, rejected, skipped) plus
// structured protocol-error fields; handlers express decisions through the
// event state rather than through control-flow errors. A handler that
// rejects without naming an error code still yields a protocol-correct
// reply via the event's default code.
package events

import (
	"github.com/quayside/oidcserver/pkg/oidc"
	"github.com/quayside/oidcserver/pkg/ticket"
)

// Status is the outcome recorded on an event.
type Status int

// Event outcomes.
const (
	// StatusUnset means no handler recorded a decision.
	StatusUnset Status = iota
	// StatusValidated means the handler accepted the request.
	StatusValidated
	// StatusRejected means the handler refused the request.
	StatusRejected
	// StatusSkipped means the handler declined to take part.
	StatusSkipped
)

// Event is the state shared by every extension point.
type Event struct {
	status      Status
	err         *oidc.Error
	defaultCode string
}

// Status returns the recorded outcome.
func (e *Event) Status() Status { return e.status }

// IsValidated reports whether the event was validated.
func (e *Event) IsValidated() bool { return e.status == StatusValidated }

// IsRejected reports whether the event was rejected.
func (e *Event) IsRejected() bool { return e.status == StatusRejected }

// IsSkipped reports whether the event was skipped.
func (e *Event) IsSkipped() bool { return e.status == StatusSkipped }

// Validate marks the event as validated and clears any previous rejection.
func (e *Event) Validate() {
	e.status = StatusValidated
	e.err = nil
}

// Skip marks the event as skipped.
func (e *Event) Skip() {
	e.status = StatusSkipped
	e.err = nil
}

// Reject marks the event as rejected with the given error fields. An empty
// code falls back to the event's default error code when the reply is
// built.
func (e *Event) Reject(code, description, uri string) {
	e.status = StatusRejected
	if code == "" && description == "" && uri == "" {
		e.err = nil
		return
	}
	e.err = &oidc.Error{Code: code, Description: description, URI: uri}
}

// RejectWith marks the event as rejected with a prebuilt protocol error.
func (e *Event) RejectWith(err *oidc.Error) {
	e.status = StatusRejected
	e.err = err
}

// ProtocolError resolves the error to report for a rejected or skipped
// event: the handler's error if one was recorded, with the default code
// substituted when the handler omitted it.
func (e *Event) ProtocolError() *oidc.Error {
	if e.err == nil {
		return oidc.NewError(e.defaultCode)
	}
	out := *e.err
	if out.Code == "" {
		out.Code = e.defaultCode
	}
	return &out
}

// ClientAuthenticationEvent is dispatched to authenticate the client that
// sent the token request. The handler validates with a client_id, skips
// for a public client, or rejects (default error: invalid_client).
type ClientAuthenticationEvent struct {
	Event

	// Request is the token request being processed.
	Request *oidc.Message

	// ClientID and ClientSecret are the credentials extracted from the
	// request body or the Basic Authorization header. The handler may
	// overwrite ClientID when validating.
	ClientID     string
	ClientSecret string
}

// NewClientAuthenticationEvent builds the event for a token request,
// seeding the credentials from the request parameters.
func NewClientAuthenticationEvent(request *oidc.Message) *ClientAuthenticationEvent {
	return &ClientAuthenticationEvent{
		Event:        Event{defaultCode: oidc.ErrorInvalidClient},
		Request:      request,
		ClientID:     request.ClientID(),
		ClientSecret: request.ClientSecret(),
	}
}

// ValidateClient marks the event as validated on behalf of the given
// client_id.
func (e *ClientAuthenticationEvent) ValidateClient(clientID string) {
	e.ClientID = clientID
	e.Validate()
}

// TokenRequestEvent is dispatched to let the host validate the token
// request as a whole (default error: invalid_request). For grants that
// reconstruct a prior ticket, Ticket carries the reconstructed ticket;
// otherwise it is nil.
type TokenRequestEvent struct {
	Event

	Request *oidc.Message
	Ticket  *ticket.Ticket
}

// NewTokenRequestEvent builds the event; t may be nil when no prior ticket
// exists.
func NewTokenRequestEvent(request *oidc.Message, t *ticket.Ticket) *TokenRequestEvent {
	return &TokenRequestEvent{
		Event:   Event{defaultCode: oidc.ErrorInvalidRequest},
		Request: request,
		Ticket:  t,
	}
}

// GrantEvent is dispatched to resolve a grant into the ticket the outbound
// tokens are minted from. For authorization_code and refresh_token grants
// the event starts validated with a copy of the reconstructed ticket; the
// handler may replace or reject it. For the other grants the event starts
// unset and the handler must supply a ticket.
type GrantEvent struct {
	Event

	Request *oidc.Message

	// Ticket is the ticket the grant resolves to. Handlers may mutate or
	// replace it; the driver treats the event's ticket as authoritative.
	Ticket *ticket.Ticket
}

// ValidateTicket records the granted ticket and marks the event validated.
func (e *GrantEvent) ValidateTicket(t *ticket.Ticket) {
	e.Ticket = t
	e.Validate()
}

// NewGrantAuthorizationCodeEvent builds the grant event for an
// authorization_code grant. The event starts validated with the
// reconstructed ticket (default error: invalid_grant).
func NewGrantAuthorizationCodeEvent(request *oidc.Message, t *ticket.Ticket) *GrantEvent {
	return &GrantEvent{
		Event:   Event{status: StatusValidated, defaultCode: oidc.ErrorInvalidGrant},
		Request: request,
		Ticket:  t,
	}
}

// NewGrantRefreshTokenEvent builds the grant event for a refresh_token
// grant. The event starts validated with the reconstructed ticket
// (default error: invalid_grant).
func NewGrantRefreshTokenEvent(request *oidc.Message, t *ticket.Ticket) *GrantEvent {
	return &GrantEvent{
		Event:   Event{status: StatusValidated, defaultCode: oidc.ErrorInvalidGrant},
		Request: request,
		Ticket:  t,
	}
}

// NewGrantResourceOwnerCredentialsEvent builds the grant event for a
// password grant (default error: invalid_grant).
func NewGrantResourceOwnerCredentialsEvent(request *oidc.Message) *GrantEvent {
	return &GrantEvent{
		Event:   Event{defaultCode: oidc.ErrorInvalidGrant},
		Request: request,
	}
}

// NewGrantClientCredentialsEvent builds the grant event for a
// client_credentials grant (default error: unauthorized_client).
func NewGrantClientCredentialsEvent(request *oidc.Message) *GrantEvent {
	return &GrantEvent{
		Event:   Event{defaultCode: oidc.ErrorUnauthorizedClient},
		Request: request,
	}
}

// NewGrantCustomExtensionEvent builds the grant event for an extension
// grant type (default error: unsupported_grant_type).
func NewGrantCustomExtensionEvent(request *oidc.Message) *GrantEvent {
	return &GrantEvent{
		Event:   Event{defaultCode: oidc.ErrorUnsupportedGrantType},
		Request: request,
	}
}

// TokenEndpointEvent is dispatched after the grant resolved, letting the
// host inspect or replace the ticket, or take over the response entirely.
type TokenEndpointEvent struct {
	Event

	Request *oidc.Message
	Ticket  *ticket.Ticket

	handled bool
}

// NewTokenEndpointEvent builds the post-grant event.
func NewTokenEndpointEvent(request *oidc.Message, t *ticket.Ticket) *TokenEndpointEvent {
	return &TokenEndpointEvent{
		Event:   Event{defaultCode: oidc.ErrorServerError},
		Request: request,
		Ticket:  t,
	}
}

// MarkHandled tells the driver the host wrote the response itself.
func (e *TokenEndpointEvent) MarkHandled() { e.handled = true }

// IsHandled reports whether the host took over the response.
func (e *TokenEndpointEvent) IsHandled() bool { return e.handled }

// TokenResponseEvent is dispatched with the outgoing response parameters
// before they are serialized, letting the host adjust the payload or take
// over the write.
type TokenResponseEvent struct {
	Event

	Request  *oidc.Message
	Response *oidc.Message

	handled bool
}

// NewTokenResponseEvent builds the response event.
func NewTokenResponseEvent(request, response *oidc.Message) *TokenResponseEvent {
	return &TokenResponseEvent{
		Event:    Event{defaultCode: oidc.ErrorServerError},
		Request:  request,
		Response: response,
	}
}

// MarkHandled tells the driver the host wrote the response itself.
func (e *TokenResponseEvent) MarkHandled() { e.handled = true }

// IsHandled reports whether the host took over the response.
func (e *TokenResponseEvent) IsHandled() bool { return e.handled }
