// SPDX-FileCopyrightText: Copyright 2026 Quayside, Inc.
// SPDX-License-Identifier: Apache-2.0

package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/quayside/oidcserver/pkg/events"
	"github.com/quayside/oidcserver/pkg/server"
	"github.com/quayside/oidcserver/pkg/ticket"
	"github.com/quayside/oidcserver/pkg/tokens"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	handler *server.Handler
	routes  http.Handler
	clock   *clocktesting.FakePassiveClock

	access   tokens.Codec
	identity tokens.Codec
	refresh  tokens.Codec
	code     tokens.Codec
}

func newOpaque(t *testing.T, usage string, lifetime time.Duration, clk clock.PassiveClock) tokens.Codec {
	t.Helper()
	protector, err := tokens.NewAEADProtector([]byte("test-secret"), usage)
	require.NoError(t, err)
	return &tokens.OpaqueCodec{Usage: usage, Lifetime: lifetime, Protector: protector, Clock: clk}
}

func newFixture(t *testing.T, provider *events.Provider, mutate func(*server.Config)) *fixture {
	t.Helper()

	clk := clocktesting.NewFakePassiveClock(testNow)
	f := &fixture{
		clock:    clk,
		access:   newOpaque(t, ticket.UsageAccessToken, time.Hour, clk),
		identity: newOpaque(t, ticket.UsageIdentityToken, 20*time.Minute, clk),
		refresh:  newOpaque(t, ticket.UsageRefreshToken, 14*24*time.Hour, clk),
		code:     newOpaque(t, ticket.UsageAuthorizationCode, 5*time.Minute, clk),
	}

	cfg := server.Config{
		Issuer:                 "https://issuer.example.com",
		Clock:                  clk,
		Provider:               provider,
		Logger:                 slog.New(slog.NewTextHandler(io.Discard, nil)),
		AccessTokenCodec:       f.access,
		IdentityTokenCodec:     f.identity,
		RefreshTokenCodec:      f.refresh,
		AuthorizationCodeCodec: f.code,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h, err := server.NewHandler(cfg)
	require.NoError(t, err)
	f.handler = h
	f.routes = h.Routes()
	return f
}

func (f *fixture) post(t *testing.T, form url.Values, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func assertProtocolError(t *testing.T, rec *httptest.ResponseRecorder, status int, code, description string) {
	t.Helper()
	assert.Equal(t, status, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, code, body["error"])
	if description != "" {
		assert.Equal(t, description, body["error_description"])
	}
}

func subjectTicket(scopes ...string) *ticket.Ticket {
	tk := ticket.New(ticket.NewPrincipal(ticket.NewIdentity(ticket.NewClaim(ticket.ClaimTypeSubject, "alice"))))
	if len(scopes) > 0 {
		if err := tk.SetScopes(scopes...); err != nil {
			panic(err)
		}
	}
	return tk
}

// passwordProvider grants the password grant with the given ticket.
func passwordProvider(tk *ticket.Ticket) *events.Provider {
	return &events.Provider{
		GrantResourceOwnerCredentials: func(_ context.Context, e *events.GrantEvent) error {
			e.ValidateTicket(tk)
			return nil
		},
	}
}

func (f *fixture) mintCode(t *testing.T, mutate func(*ticket.Ticket)) string {
	t.Helper()
	tk := subjectTicket("openid")
	require.NoError(t, tk.SetPresenters("app-1"))
	tk.SetRedirectURI("https://app.example.com/cb")
	if mutate != nil {
		mutate(tk)
	}
	value, err := f.code.Serialize(context.Background(), tk)
	require.NoError(t, err)
	return value
}

func (f *fixture) mintRefresh(t *testing.T, mutate func(*ticket.Ticket)) string {
	t.Helper()
	tk := subjectTicket("openid", "profile", "email", "offline_access")
	require.NoError(t, tk.SetPresenters("app-1"))
	if mutate != nil {
		mutate(tk)
	}
	value, err := f.refresh.Serialize(context.Background(), tk)
	require.NoError(t, err)
	return value
}

func TestPasswordGrant(t *testing.T) {
	t.Parallel()

	granted := subjectTicket("openid", "offline_access")
	f := newFixture(t, passwordProvider(granted), nil)

	rec := f.post(t, url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"hunter2"},
		"scope":      {"openid offline_access"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json;charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "-1", rec.Header().Get("Expires"))

	body := decodeBody(t, rec)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "3600", body["expires_in"])
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["id_token"])
	assert.NotEmpty(t, body["refresh_token"])
	// The granted scope matches the requested one, so it is not echoed.
	assert.NotContains(t, body, "scope")

	at, err := f.access.Deserialize(context.Background(), body["access_token"])
	require.NoError(t, err)
	assert.Equal(t, "alice", at.Principal.Primary().Subject())
	assert.True(t, at.IsAccessToken())
	assert.Equal(t, []string{"openid", "offline_access"}, at.GetScopes())
	assert.False(t, at.IsConfidential())
	assert.Equal(t, testNow.Add(time.Hour), at.ExpiresAt)

	it, err := f.identity.Deserialize(context.Background(), body["id_token"])
	require.NoError(t, err)
	assert.True(t, it.IsIdentityToken())
	assert.Equal(t, testNow.Add(20*time.Minute), it.ExpiresAt)

	rt, err := f.refresh.Deserialize(context.Background(), body["refresh_token"])
	require.NoError(t, err)
	assert.True(t, rt.IsRefreshToken())
	assert.Equal(t, testNow.Add(14*24*time.Hour), rt.ExpiresAt)
}

func TestPasswordGrantScopeEchoedWhenDifferent(t *testing.T) {
	t.Parallel()

	// The host narrows the granted scope below what was requested.
	f := newFixture(t, passwordProvider(subjectTicket("openid")), nil)

	rec := f.post(t, url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"hunter2"},
		"scope":      {"openid profile"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "openid", decodeBody(t, rec)["scope"])
}

func TestPasswordGrantRequiresCredentials(t *testing.T) {
	t.Parallel()

	f := newFixture(t, passwordProvider(subjectTicket()), nil)

	rec := f.post(t, url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
	})

	assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request",
		"The mandatory username and password parameters were missing")
}

func TestAuthorizationCodeGrant(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &events.Provider{}, nil)
	code := f.mintCode(t, nil)

	rec := f.post(t, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {"app-1"},
		"redirect_uri": {"https://app.example.com/cb"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["id_token"])
	// No offline_access scope on the code, so no refresh token.
	assert.NotContains(t, body, "refresh_token")
	// A code redemption always reports the granted scope.
	assert.Equal(t, "openid", body["scope"])
	// Token lifetimes are recomputed, not inherited from the code.
	assert.Equal(t, "3600", body["expires_in"])

	at, err := f.access.Deserialize(context.Background(), body["access_token"])
	require.NoError(t, err)
	assert.Equal(t, "alice", at.Principal.Primary().Subject())
	// The redirect_uri binding never leaks into outbound tokens.
	assert.False(t, at.HasProperty(ticket.PropertyRedirectURI))
}

func TestAuthorizationCodeRedirectURIBinding(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &events.Provider{}, nil)

	t.Run("missing redirect_uri", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type": {"authorization_code"},
			"code":       {f.mintCode(t, nil)},
			"client_id":  {"app-1"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request",
			"The mandatory redirect_uri parameter was missing")
	})

	t.Run("mismatched redirect_uri", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {f.mintCode(t, nil)},
			"client_id":    {"app-1"},
			"redirect_uri": {"https://evil.example.com/cb"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant",
			"Authorization code does not contain matching redirect_uri")
	})

	t.Run("unbound code skips the check", func(t *testing.T) {
		t.Parallel()

		code := f.mintCode(t, func(tk *ticket.Ticket) {
			tk.RemoveProperty(ticket.PropertyRedirectURI)
		})
		rec := f.post(t, url.Values{
			"grant_type": {"authorization_code"},
			"code":       {code},
			"client_id":  {"app-1"},
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAuthorizationCodeClientBinding(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &events.Provider{}, nil)

	t.Run("missing client_id", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {f.mintCode(t, nil)},
			"redirect_uri": {"https://app.example.com/cb"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request",
			"The mandatory client_id parameter was missing")
	})

	t.Run("foreign client_id", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {f.mintCode(t, nil)},
			"client_id":    {"app-2"},
			"redirect_uri": {"https://app.example.com/cb"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant",
			"Ticket does not contain matching client_id")
	})

	t.Run("undecipherable code", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {"garbage"},
			"client_id":    {"app-1"},
			"redirect_uri": {"https://app.example.com/cb"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant", "Invalid ticket")
	})
}

func TestRefreshTokenScopeNarrowing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &events.Provider{}, nil)

	t.Run("subset narrows the granted set", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {f.mintRefresh(t, nil)},
			"scope":         {"openid offline_access"},
		})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)

		at, err := f.access.Deserialize(context.Background(), body["access_token"])
		require.NoError(t, err)
		assert.Equal(t, []string{"openid", "offline_access"}, at.GetScopes())

		// The replacement refresh token carries the narrowed set too.
		rt, err := f.refresh.Deserialize(context.Background(), body["refresh_token"])
		require.NoError(t, err)
		assert.Equal(t, []string{"openid", "offline_access"}, rt.GetScopes())
	})

	t.Run("superset is rejected", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {f.mintRefresh(t, nil)},
			"scope":         {"openid admin"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant",
			"Token request contains an invalid scope parameter")
	})

	t.Run("scope against a scopeless ticket is rejected", func(t *testing.T) {
		t.Parallel()

		stripped := f.mintRefresh(t, func(tk *ticket.Ticket) {
			tk.RemoveProperty(ticket.PropertyScopes)
		})
		rec := f.post(t, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {stripped},
			"scope":         {"openid"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant",
			"Token request contains a scope parameter but the ticket has none")
	})
}

func TestRefreshTokenResourceNarrowing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &events.Provider{}, nil)
	withResources := func(tk *ticket.Ticket) {
		require.NoError(t, tk.SetResources("https://api.example.com", "https://files.example.com"))
	}

	t.Run("subset narrows the granted set", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {f.mintRefresh(t, withResources)},
			"resource":      {"https://api.example.com"},
		})

		require.Equal(t, http.StatusOK, rec.Code)
		at, err := f.access.Deserialize(context.Background(), decodeBody(t, rec)["access_token"])
		require.NoError(t, err)
		assert.Equal(t, []string{"https://api.example.com"}, at.GetResources())
	})

	t.Run("unknown resource is rejected", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {f.mintRefresh(t, withResources)},
			"resource":      {"https://other.example.com"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant",
			"Token request contains an invalid resource parameter")
	})

	t.Run("resource against a resourceless ticket is rejected", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {f.mintRefresh(t, nil)},
			"resource":      {"https://api.example.com"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant",
			"Token request contains a resource parameter but the ticket has none")
	})
}

func TestExpiredTicketRejection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &events.Provider{}, nil)

	tests := []struct {
		name      string
		expiresAt time.Time
	}{
		{name: "expired in the past", expiresAt: testNow.Add(-time.Second)},
		// Expiry is strict: a ticket expiring exactly now is gone.
		{name: "expiring exactly now", expiresAt: testNow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stale := f.mintRefresh(t, func(tk *ticket.Ticket) {
				tk.IssuedAt = testNow.Add(-time.Hour)
				tk.ExpiresAt = tt.expiresAt
			})
			rec := f.post(t, url.Values{
				"grant_type":    {"refresh_token"},
				"refresh_token": {stale},
			})
			assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant", "Expired ticket")
		})
	}
}

func TestConfidentialRefreshRequiresClientAuthentication(t *testing.T) {
	t.Parallel()

	provider := &events.Provider{
		ValidateClientAuthentication: func(_ context.Context, e *events.ClientAuthenticationEvent) error {
			if e.ClientID == "app-1" && e.ClientSecret == "s3cret" {
				e.ValidateClient("app-1")
			} else {
				e.Skip()
			}
			return nil
		},
	}
	f := newFixture(t, provider, nil)
	confidential := func(tk *ticket.Ticket) { tk.SetConfidential() }

	t.Run("anonymous redemption is rejected", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {f.mintRefresh(t, confidential)},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant",
			"Client authentication is required to refresh this token")
	})

	t.Run("authenticated redemption succeeds", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {f.mintRefresh(t, confidential)},
			"client_id":     {"app-1"},
			"client_secret": {"s3cret"},
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestClientCredentialsGrant(t *testing.T) {
	t.Parallel()

	t.Run("requires client authentication", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, &events.Provider{}, nil)
		rec := f.post(t, url.Values{"grant_type": {"client_credentials"}})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant",
			"client authentication is required when using client_credentials")
	})

	t.Run("mints a confidential token when authenticated", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			ValidateClientAuthentication: func(_ context.Context, e *events.ClientAuthenticationEvent) error {
				e.ValidateClient(e.ClientID)
				return nil
			},
			GrantClientCredentials: func(_ context.Context, e *events.GrantEvent) error {
				e.ValidateTicket(subjectTicket())
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {"app-1"},
			"client_secret": {"s3cret"},
		})

		require.Equal(t, http.StatusOK, rec.Code)
		at, err := f.access.Deserialize(context.Background(), decodeBody(t, rec)["access_token"])
		require.NoError(t, err)
		assert.True(t, at.IsConfidential())
	})

	t.Run("unhandled grant is unauthorized_client", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			ValidateClientAuthentication: func(_ context.Context, e *events.ClientAuthenticationEvent) error {
				e.ValidateClient("app-1")
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"client_credentials"}, "client_id": {"app-1"}})
		assertProtocolError(t, rec, http.StatusBadRequest, "unauthorized_client", "")
	})
}

func TestBasicAuthenticationFallback(t *testing.T) {
	t.Parallel()

	var seen *events.ClientAuthenticationEvent
	provider := &events.Provider{
		ValidateClientAuthentication: func(_ context.Context, e *events.ClientAuthenticationEvent) error {
			seen = e
			e.Skip()
			return nil
		},
		GrantResourceOwnerCredentials: func(_ context.Context, e *events.GrantEvent) error {
			e.ValidateTicket(subjectTicket())
			return nil
		},
	}
	f := newFixture(t, provider, nil)
	form := url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"hunter2"},
	}

	t.Run("header credentials are extracted", func(t *testing.T) {
		rec := f.post(t, form, func(r *http.Request) {
			r.SetBasicAuth("app-1", "s3cret")
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "app-1", seen.ClientID)
		assert.Equal(t, "s3cret", seen.ClientSecret)
	})

	t.Run("body credentials win over the header", func(t *testing.T) {
		withBody := url.Values{}
		for k, v := range form {
			withBody[k] = v
		}
		withBody.Set("client_id", "body-app")

		rec := f.post(t, withBody, func(r *http.Request) {
			r.SetBasicAuth("header-app", "s3cret")
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "body-app", seen.ClientID)
	})

	t.Run("malformed header is ignored", func(t *testing.T) {
		rec := f.post(t, form, func(r *http.Request) {
			r.Header.Set("Authorization", "Basic not-base64!!")
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, seen.ClientID)
	})

	t.Run("header without separator is ignored", func(t *testing.T) {
		rec := f.post(t, form, func(r *http.Request) {
			r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("no-colon")))
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, seen.ClientID)
	})
}

func TestClientAuthenticationOutcomes(t *testing.T) {
	t.Parallel()

	t.Run("rejection is 401 invalid_client", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			ValidateClientAuthentication: func(_ context.Context, e *events.ClientAuthenticationEvent) error {
				e.Reject("", "", "")
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		assertProtocolError(t, rec, http.StatusUnauthorized, "invalid_client", "")
	})

	t.Run("validation without a client_id is a server fault", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			ValidateClientAuthentication: func(_ context.Context, e *events.ClientAuthenticationEvent) error {
				e.Validate()
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		assertProtocolError(t, rec, http.StatusInternalServerError, "server_error", "")
	})

	t.Run("handler error is a server fault", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			ValidateClientAuthentication: func(_ context.Context, _ *events.ClientAuthenticationEvent) error {
				return errors.New("directory unavailable")
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		assertProtocolError(t, rec, http.StatusInternalServerError, "server_error", "")
	})
}

func TestSlidingExpiration(t *testing.T) {
	t.Parallel()

	nearExpiry := func(tk *ticket.Ticket) {
		tk.IssuedAt = testNow.Add(-time.Hour)
		tk.ExpiresAt = testNow.Add(10 * time.Minute)
	}
	form := func(t *testing.T, f *fixture) url.Values {
		return url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {f.mintRefresh(t, nearExpiry)},
		}
	}

	t.Run("disabled clamps to the source expiry", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, &events.Provider{}, nil)
		rec := f.post(t, form(t, f))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "600", body["expires_in"])

		rt, err := f.refresh.Deserialize(context.Background(), body["refresh_token"])
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(10*time.Minute), rt.ExpiresAt)
	})

	t.Run("enabled grants a fresh window", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, &events.Provider{}, func(cfg *server.Config) {
			cfg.UseSlidingExpiration = true
		})
		rec := f.post(t, form(t, f))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "3600", body["expires_in"])

		rt, err := f.refresh.Deserialize(context.Background(), body["refresh_token"])
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(14*24*time.Hour), rt.ExpiresAt)
	})
}

func TestClaimDestinationFiltering(t *testing.T) {
	t.Parallel()

	identity := ticket.NewIdentity(
		ticket.NewClaim(ticket.ClaimTypeSubject, "alice"),
		ticket.NewClaim("email", "alice@example.com").WithDestinations(ticket.UsageIdentityToken),
		ticket.NewClaim("role", "admin").WithDestinations(ticket.UsageAccessToken, ticket.UsageIdentityToken),
		ticket.NewClaim("ssn", "000-00-0000"),
	)
	granted := ticket.New(ticket.NewPrincipal(identity))
	require.NoError(t, granted.SetScopes("openid", "offline_access"))

	f := newFixture(t, passwordProvider(granted), nil)
	rec := f.post(t, url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"hunter2"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	at, err := f.access.Deserialize(context.Background(), body["access_token"])
	require.NoError(t, err)
	assert.Equal(t, "alice", at.Principal.Primary().Subject())
	_, hasEmail := at.Principal.FindFirst("email")
	assert.False(t, hasEmail)
	role, _ := at.Principal.FindFirst("role")
	assert.Equal(t, "admin", role)
	_, hasSSN := at.Principal.FindFirst("ssn")
	assert.False(t, hasSSN)

	it, err := f.identity.Deserialize(context.Background(), body["id_token"])
	require.NoError(t, err)
	email, _ := it.Principal.FindFirst("email")
	assert.Equal(t, "alice@example.com", email)

	// Refresh tokens keep the whole principal.
	rt, err := f.refresh.Deserialize(context.Background(), body["refresh_token"])
	require.NoError(t, err)
	ssn, _ := rt.Principal.FindFirst("ssn")
	assert.Equal(t, "000-00-0000", ssn)
}

func TestResponseTypeSelection(t *testing.T) {
	t.Parallel()

	form := url.Values{
		"grant_type":    {"password"},
		"username":      {"alice"},
		"password":      {"hunter2"},
		"response_type": {"token"},
	}

	t.Run("opt-in limits the minted kinds", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, passwordProvider(subjectTicket("openid", "offline_access")), func(cfg *server.Config) {
			cfg.EnableResponseTypeSelection = true
		})
		rec := f.post(t, form)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.NotEmpty(t, body["access_token"])
		assert.NotContains(t, body, "id_token")
		assert.NotContains(t, body, "refresh_token")
	})

	t.Run("ignored by default", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, passwordProvider(subjectTicket("openid", "offline_access")), nil)
		rec := f.post(t, form)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.NotEmpty(t, body["access_token"])
		assert.NotEmpty(t, body["id_token"])
		assert.NotEmpty(t, body["refresh_token"])
	})
}

func TestDefaultOpenIDScope(t *testing.T) {
	t.Parallel()

	// The granted ticket has no scopes, but the request asked for openid:
	// the response still carries an id_token.
	f := newFixture(t, passwordProvider(subjectTicket()), nil)

	rec := f.post(t, url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"hunter2"},
		"scope":      {"openid"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["id_token"])
}

func TestValidateTokenRequestRejection(t *testing.T) {
	t.Parallel()

	provider := &events.Provider{
		ValidateTokenRequest: func(_ context.Context, e *events.TokenRequestEvent) error {
			e.Reject("", "request blocked by policy", "")
			return nil
		},
	}
	f := newFixture(t, provider, nil)

	rec := f.post(t, url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"hunter2"},
	})
	assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request", "request blocked by policy")
}

func TestValidateTokenRequestSeesReconstructedTicket(t *testing.T) {
	t.Parallel()

	var sawTicket *ticket.Ticket
	provider := &events.Provider{
		ValidateTokenRequest: func(_ context.Context, e *events.TokenRequestEvent) error {
			sawTicket = e.Ticket
			return nil
		},
	}
	f := newFixture(t, provider, nil)

	rec := f.post(t, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {f.mintRefresh(t, nil)},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sawTicket)
	assert.Equal(t, "alice", sawTicket.Principal.Primary().Subject())
}

func TestGrantOutcomes(t *testing.T) {
	t.Parallel()

	t.Run("unknown grant type without a handler", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, &events.Provider{}, nil)
		rec := f.post(t, url.Values{"grant_type": {"urn:example:impersonate"}})
		assertProtocolError(t, rec, http.StatusBadRequest, "unsupported_grant_type", "")
	})

	t.Run("custom extension grant with a handler", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			GrantCustomExtension: func(_ context.Context, e *events.GrantEvent) error {
				e.ValidateTicket(subjectTicket())
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"urn:example:impersonate"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, decodeBody(t, rec)["access_token"])
	})

	t.Run("grant rejection uses the grant's default code", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			GrantResourceOwnerCredentials: func(_ context.Context, e *events.GrantEvent) error {
				e.Reject("", "bad credentials", "")
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant", "bad credentials")
	})

	t.Run("grant handler error is a server fault", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			GrantResourceOwnerCredentials: func(_ context.Context, _ *events.GrantEvent) error {
				return errors.New("backend down")
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		assertProtocolError(t, rec, http.StatusInternalServerError, "server_error", "")
	})

	t.Run("code grant handler can veto the reconstructed ticket", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			GrantAuthorizationCode: func(_ context.Context, e *events.GrantEvent) error {
				e.Reject("", "code already redeemed", "")
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {f.mintCode(t, nil)},
			"client_id":    {"app-1"},
			"redirect_uri": {"https://app.example.com/cb"},
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_grant", "code already redeemed")
	})
}

func TestTokenEndpointEvent(t *testing.T) {
	t.Parallel()

	t.Run("handler can replace the ticket", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			GrantResourceOwnerCredentials: func(_ context.Context, e *events.GrantEvent) error {
				e.ValidateTicket(subjectTicket())
				return nil
			},
			TokenEndpoint: func(_ context.Context, e *events.TokenEndpointEvent) error {
				e.Ticket.SetProperty("tenant", "acme")
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		require.Equal(t, http.StatusOK, rec.Code)

		at, err := f.access.Deserialize(context.Background(), decodeBody(t, rec)["access_token"])
		require.NoError(t, err)
		assert.Equal(t, "acme", at.Property("tenant"))
	})

	t.Run("marking handled suppresses the driver's response", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			GrantResourceOwnerCredentials: func(_ context.Context, e *events.GrantEvent) error {
				e.ValidateTicket(subjectTicket())
				return nil
			},
			TokenEndpoint: func(_ context.Context, e *events.TokenEndpointEvent) error {
				e.MarkHandled()
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		assert.Empty(t, rec.Body.String())
	})

	t.Run("removing the ticket is a server fault", func(t *testing.T) {
		t.Parallel()

		provider := &events.Provider{
			GrantResourceOwnerCredentials: func(_ context.Context, e *events.GrantEvent) error {
				e.ValidateTicket(subjectTicket())
				return nil
			},
			TokenEndpoint: func(_ context.Context, e *events.TokenEndpointEvent) error {
				e.Ticket = nil
				return nil
			},
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		assertProtocolError(t, rec, http.StatusInternalServerError, "server_error", "")
	})
}

func TestTokenResponseEvent(t *testing.T) {
	t.Parallel()

	t.Run("handler can amend the payload", func(t *testing.T) {
		t.Parallel()

		provider := passwordProvider(subjectTicket())
		provider.TokenEndpointResponse = func(_ context.Context, e *events.TokenResponseEvent) error {
			e.Response.Set("issued_token_type", "urn:ietf:params:oauth:token-type:access_token")
			return nil
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "urn:ietf:params:oauth:token-type:access_token",
			decodeBody(t, rec)["issued_token_type"])
	})

	t.Run("marking handled suppresses the driver's write", func(t *testing.T) {
		t.Parallel()

		provider := passwordProvider(subjectTicket())
		provider.TokenEndpointResponse = func(_ context.Context, e *events.TokenResponseEvent) error {
			e.MarkHandled()
			return nil
		}
		f := newFixture(t, provider, nil)

		rec := f.post(t, url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}})
		assert.Empty(t, rec.Body.String())
	})
}

func TestRequestPreconditions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, passwordProvider(subjectTicket()), nil)
	form := url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}}

	t.Run("missing grant_type", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{"username": {"a"}})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request",
			"The mandatory grant_type parameter was missing")
	})

	t.Run("missing code", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{"grant_type": {"authorization_code"}})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request",
			"The mandatory code parameter was missing")
	})

	t.Run("missing refresh_token", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, url.Values{"grant_type": {"refresh_token"}})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request",
			"The mandatory refresh_token parameter was missing")
	})

	t.Run("missing content type", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, form, func(r *http.Request) {
			r.Header.Del("Content-Type")
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request",
			"The mandatory Content-Type header was missing")
	})

	t.Run("wrong content type", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, form, func(r *http.Request) {
			r.Header.Set("Content-Type", "application/json")
		})
		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request",
			"The Content-Type header must be application/x-www-form-urlencoded")
	})

	t.Run("charset parameter is accepted", func(t *testing.T) {
		t.Parallel()

		rec := f.post(t, form, func(r *http.Request) {
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non-POST is rejected by the driver", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/token", nil)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		f.handler.TokenHandler(rec, req)

		assertProtocolError(t, rec, http.StatusBadRequest, "invalid_request",
			"The token request must use the POST method")
	})
}

func TestCancelledRequestWritesNothing(t *testing.T) {
	t.Parallel()

	provider := &events.Provider{
		GrantResourceOwnerCredentials: func(ctx context.Context, e *events.GrantEvent) error {
			e.ValidateTicket(subjectTicket())
			return nil
		},
	}
	f := newFixture(t, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/token",
		strings.NewReader(url.Values{"grant_type": {"password"}, "username": {"a"}, "password": {"b"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(ctx)
	cancel()

	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)

	assert.Empty(t, rec.Body.String())
	assert.Equal(t, http.StatusOK, rec.Code) // nothing was written
}
