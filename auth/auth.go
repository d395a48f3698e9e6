// Package auth holds the session credentials used by apiclient clients and
// renews them against a refresh endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrNoToken is returned by AuthHeaders when nobody is signed in.
	ErrNoToken = errors.New("auth: no access token")
	// ErrNoRefreshToken is returned by Renew when there is nothing to renew with.
	ErrNoRefreshToken = errors.New("auth: no refresh token")
	// ErrRefreshRejected is returned by Renew when the server refused the refresh token.
	ErrRefreshRejected = errors.New("auth: refresh token rejected")
)

// Tokens is a credential pair.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"-"`
}

// TokenStore is a concurrency-safe holder for the session's tokens.
type TokenStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

func (s *TokenStore) Set(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = t
}

func (s *TokenStore) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Clear signs the session out.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = Tokens{}
}

// AuthHeaders returns the bearer header for the current access token. It
// matches apiclient.AuthHeaderFunc.
func (s *TokenStore) AuthHeaders(context.Context) (http.Header, error) {
	s.mu.RLock()
	token := s.tokens.AccessToken
	s.mu.RUnlock()

	if token == "" {
		return nil, ErrNoToken
	}
	h := make(http.Header, 1)
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// RefreshRenewer exchanges the stored refresh token for a new pair.
type RefreshRenewer struct {
	store      *TokenStore
	url        string
	httpClient *http.Client
	now        func() time.Time
}

// NewRefreshRenewer creates a renewer posting to refreshURL. A nil client
// uses a 15 second timeout client. The refresh call never goes through an
// apiclient.Client, so it cannot trigger another renewal.
func NewRefreshRenewer(store *TokenStore, refreshURL string, httpClient *http.Client) *RefreshRenewer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &RefreshRenewer{
		store:      store,
		url:        refreshURL,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Renew matches apiclient.Renewer. A rejected refresh token signs the
// session out; transport failures leave the tokens alone.
func (r *RefreshRenewer) Renew(ctx context.Context) error {
	current := r.store.Tokens()
	if current.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	payload, err := json.Marshal(refreshRequest{RefreshToken: current.RefreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("auth: refresh response unreadable: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		r.store.Clear()
		return ErrRefreshRejected
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("auth: refresh returned HTTP %d", resp.StatusCode)
	}

	var out refreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("auth: refresh response malformed: %w", err)
	}
	if out.AccessToken == "" {
		return fmt.Errorf("auth: refresh response has no access token")
	}

	next := Tokens{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if out.ExpiresIn > 0 {
		next.ExpiresAt = r.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	r.store.Set(next)
	return nil
}
