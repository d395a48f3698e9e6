package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambiyansyah-risyal/apiclient/internal/testbackend"
)

func signedIn(t *testing.T) (*testbackend.Backend, *TokenStore, *RefreshRenewer) {
	t.Helper()
	backend := testbackend.New()
	t.Cleanup(backend.Close)

	store := NewTokenStore()
	access, refresh := backend.Tokens()
	store.Set(Tokens{AccessToken: access, RefreshToken: refresh})
	return backend, store, NewRefreshRenewer(store, backend.URL()+testbackend.RefreshPath, nil)
}

func TestAuthHeaders(t *testing.T) {
	store := NewTokenStore()
	_, err := store.AuthHeaders(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)

	store.Set(Tokens{AccessToken: "abc"})
	h, err := store.AuthHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", h.Get("Authorization"))

	store.Clear()
	assert.Equal(t, Tokens{}, store.Tokens())
}

func TestRenew(t *testing.T) {
	backend, store, renewer := signedIn(t)
	now := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	renewer.now = func() time.Time { return now }

	require.NoError(t, renewer.Renew(context.Background()))

	access, refresh := backend.Tokens()
	got := store.Tokens()
	assert.Equal(t, access, got.AccessToken)
	assert.Equal(t, refresh, got.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), got.ExpiresAt)
	assert.Equal(t, 1, backend.Refreshes())
}

func TestRenewRejectedSignsOut(t *testing.T) {
	backend, store, renewer := signedIn(t)
	backend.SetFailRefresh(true)

	err := renewer.Renew(context.Background())
	assert.ErrorIs(t, err, ErrRefreshRejected)
	assert.Equal(t, Tokens{}, store.Tokens())
}

func TestRenewWithoutRefreshToken(t *testing.T) {
	renewer := NewRefreshRenewer(NewTokenStore(), "http://unused.invalid", nil)
	assert.ErrorIs(t, renewer.Renew(context.Background()), ErrNoRefreshToken)
}

func TestRenewServerErrorKeepsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := NewTokenStore()
	store.Set(Tokens{AccessToken: "a", RefreshToken: "r"})
	err := NewRefreshRenewer(store, srv.URL, nil).Renew(context.Background())

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRefreshRejected))
	assert.Equal(t, "a", store.Tokens().AccessToken)
}

func TestRenewKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"next"}`))
	}))
	defer srv.Close()

	store := NewTokenStore()
	store.Set(Tokens{AccessToken: "a", RefreshToken: "r"})
	require.NoError(t, NewRefreshRenewer(store, srv.URL, nil).Renew(context.Background()))

	assert.Equal(t, Tokens{AccessToken: "next", RefreshToken: "r"}, store.Tokens())
}

func TestRenewMalformedResponse(t *testing.T) {
	for name, body := range map[string]string{
		"not json":        "<html>",
		"no access token": `{"refresh_token":"r2"}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			store := NewTokenStore()
			store.Set(Tokens{AccessToken: "a", RefreshToken: "r"})
			assert.Error(t, NewRefreshRenewer(store, srv.URL, nil).Renew(context.Background()))
			assert.Equal(t, "a", store.Tokens().AccessToken)
		})
	}
}
