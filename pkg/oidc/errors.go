// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"fmt"
	"net/http"
)

// Error is a structured OAuth 2.0 protocol error (RFC 6749 Section 5.2).
// It serializes to the standard error body:
//
//	{"error": "...", "error_description": "...", "error_uri": "..."}
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

// NewError returns a protocol error carrying only an error code.
func NewError(code string) *Error {
	return &Error{Code: code}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithDescription returns a copy of the error with a formatted
// error_description. The receiver is not mutated, so the predefined error
// values can be shared safely.
func (e *Error) WithDescription(format string, args ...any) *Error {
	out := *e
	out.Description = fmt.Sprintf(format, args...)
	return &out
}

// WithURI returns a copy of the error with an error_uri.
func (e *Error) WithURI(uri string) *Error {
	out := *e
	out.URI = uri
	return &out
}

// StatusCode returns the HTTP status to report this error with:
// 401 for invalid_client, 500 for server_error, 400 otherwise.
func (e *Error) StatusCode() int {
	switch e.Code {
	case ErrorInvalidClient:
		return http.StatusUnauthorized
	case ErrorServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Predefined protocol errors. Use WithDescription to attach context.
var (
	ErrInvalidClient          = NewError(ErrorInvalidClient)
	ErrInvalidGrant           = NewError(ErrorInvalidGrant)
	ErrInvalidRequest         = NewError(ErrorInvalidRequest)
	ErrInvalidScope           = NewError(ErrorInvalidScope)
	ErrServerError            = NewError(ErrorServerError)
	ErrTemporarilyUnavailable = NewError(ErrorTemporarilyUnavailable)
	ErrUnauthorizedClient     = NewError(ErrorUnauthorizedClient)
	ErrUnsupportedGrantType   = NewError(ErrorUnsupportedGrantType)
)
