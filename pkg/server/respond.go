// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/quayside/oidcserver/pkg/oidc"
)

// setResponseHeaders applies the cache-defeating headers every token
// endpoint reply carries (RFC 6749 Section 5.1).
func setResponseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "-1")
}

// writeJSON serializes the response parameters as a JSON object.
func (h *Handler) writeJSON(w http.ResponseWriter, params map[string]string) {
	setResponseHeaders(w)
	if err := json.NewEncoder(w).Encode(params); err != nil {
		h.logger.Error("failed to encode token response",
			"error", err,
		)
	}
}

// writeError emits the standard protocol error body with the status the
// error code maps to.
func (h *Handler) writeError(w http.ResponseWriter, err *oidc.Error) {
	if err.Code == oidc.ErrorServerError {
		h.logger.Error("token request failed",
			"error", err.Code,
			"error_description", err.Description,
		)
	} else {
		h.logger.Debug("token request rejected",
			"error", err.Code,
			"error_description", err.Description,
		)
	}
	setResponseHeaders(w)
	w.WriteHeader(err.StatusCode())
	if encodeErr := json.NewEncoder(w).Encode(err); encodeErr != nil {
		h.logger.Error("failed to encode error response",
			"error", encodeErr,
		)
	}
}

// serverFault logs a host-side handler failure and reports it as
// server_error.
func (h *Handler) serverFault(w http.ResponseWriter, handler string, err error) {
	h.logger.Error("extension handler failed",
		"handler", handler,
		"error", err,
	)
	h.writeError(w, oidc.ErrServerError)
}
