// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server implements the authorization-server endpoint drivers.
// The token endpoint driver orchestrates the message model, the ticket
// model, the extension protocol and the token codecs into the OAuth 2.0
// token endpoint state machine; the host plugs in behind the
// events.Provider vtable.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"k8s.io/utils/clock"

	"github.com/quayside/oidcserver/pkg/events"
)

// Handler serves the authorization-server endpoints.
type Handler struct {
	cfg      Config
	provider *events.Provider
	clock    clock.PassiveClock
	logger   *slog.Logger
}

// NewHandler validates the configuration, applies defaults and returns
// the handler.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Handler{
		cfg:      cfg,
		provider: cfg.Provider,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}, nil
}

// Routes returns a router with the server's endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.OAuthRoutes(r)
	return r
}

// OAuthRoutes registers the OAuth endpoints on the provided router.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Post(h.cfg.TokenEndpointPath, h.TokenHandler)
}
