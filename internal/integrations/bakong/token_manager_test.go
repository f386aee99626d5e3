package bakong

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenManagerCachesWithinSafetyMargin(t *testing.T) {
	t.Parallel()

	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["merchant_id"] != "merchant-1" || req["secret"] != "s3cret" {
			t.Fatalf("missing credentials in request: %#v", req)
		}
		callCount++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"responseCode": 0,
			"data": map[string]interface{}{
				"access_token": fmt.Sprintf("token-%d", callCount),
				"expires_in":   3600,
			},
		})
	}))
	defer server.Close()

	tm := NewTokenManager(TokenManagerConfig{
		MerchantID: "merchant-1",
		Secret:     "s3cret",
		TokenURL:   server.URL,
	}, server.Client())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tm.now = func() time.Time { return now }

	tok1, err := tm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	now = now.Add(30 * time.Minute)
	tok2, err := tm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if tok1 != tok2 {
		t.Fatalf("expected cached token, got %q vs %q", tok1, tok2)
	}
	if callCount != 1 {
		t.Fatalf("expected 1 token request, got %d", callCount)
	}

	// 3600s lifetime minus the 60s margin: 59m30s is already past expiry.
	now = base.Add(59*time.Minute + 30*time.Second)
	tok3, err := tm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("third token: %v", err)
	}
	if tok3 == tok2 {
		t.Fatalf("expected refreshed token, got same %q", tok3)
	}
	if callCount != 2 {
		t.Fatalf("expected 2 token requests, got %d", callCount)
	}
}

func TestTokenManagerStaticTokenBypassesExchange(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("credential exchange should not be called with a static token")
	}))
	defer server.Close()

	tm := NewTokenManager(TokenManagerConfig{
		StaticToken: "pre-issued",
		TokenURL:    server.URL,
	}, server.Client())

	tok, err := tm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("static token: %v", err)
	}
	if tok != "pre-issued" {
		t.Fatalf("expected static token, got %q", tok)
	}
}

func TestTokenManagerAuthFailureNotCached(t *testing.T) {
	t.Parallel()

	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"responseCode":    1,
			"responseMessage": "invalid merchant credentials",
		})
	}))
	defer server.Close()

	tm := NewTokenManager(TokenManagerConfig{
		MerchantID: "merchant-1",
		Secret:     "wrong",
		TokenURL:   server.URL,
	}, server.Client())

	_, err := tm.AccessToken(context.Background())
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}

	// A second call must hit the provider again: failures are never cached.
	_, err = tm.AccessToken(context.Background())
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure on retry, got %v", err)
	}
	if callCount != 2 {
		t.Fatalf("expected 2 exchange attempts, got %d", callCount)
	}
}

func TestTokenManagerMissingCredentials(t *testing.T) {
	t.Parallel()

	tm := NewTokenManager(TokenManagerConfig{}, nil)
	_, err := tm.AccessToken(context.Background())
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
}
