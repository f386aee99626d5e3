package bakong

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClientAgainst(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tm := NewTokenManager(TokenManagerConfig{StaticToken: "test-access"}, srv.Client())
	return NewClient(Config{BaseURL: srv.URL}, tm, srv.Client(), nil)
}

// TestCheckTransactionConfirmed verifies check transaction parsing behavior.
func TestCheckTransactionConfirmed(t *testing.T) {
	t.Parallel()

	settled := time.Date(2026, 3, 1, 9, 31, 0, 0, time.UTC)
	client := testClientAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/check_transaction_by_md5" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-access" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["md5"] != "d41d8cd98f00b204e9800998ecf8427e" {
			t.Fatalf("unexpected md5: %s", req["md5"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"responseCode": 0,
			"data": map[string]interface{}{
				"hash":          "abc123",
				"toAccountId":   "merchant_pool@devb",
				"currency":      "KHR",
				"amount":        5000,
				"createdDateMs": settled.UnixMilli(),
			},
		})
	})

	trx, raw, err := client.CheckTransactionByMD5(context.Background(), "d41d8cd98f00b204e9800998ecf8427e")
	if err != nil {
		t.Fatalf("check transaction: %v", err)
	}
	if trx.Hash != "abc123" || trx.ToAccountID != "merchant_pool@devb" {
		t.Fatalf("unexpected transaction: %#v", trx)
	}
	if !trx.SettledAt().Equal(settled) {
		t.Fatalf("unexpected settlement time: %s", trx.SettledAt())
	}
	if !strings.Contains(string(raw), "abc123") {
		t.Fatalf("raw body should contain hash: %s", string(raw))
	}
}

// TestCheckTransactionNotFound verifies not-found shapes behavior.
func TestCheckTransactionNotFound(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "nonzero response code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"responseCode":    1,
					"responseMessage": "Transaction could not be found",
				})
			},
		},
		{
			name: "null data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"responseCode": 0,
					"data":         nil,
				})
			},
		},
		{
			name: "http 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "not found", http.StatusNotFound)
			},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := testClientAgainst(t, tc.handler)
			_, _, err := client.CheckTransactionByMD5(context.Background(), "ffffffffffffffffffffffffffffffff")
			if !errors.Is(err, ErrTransactionNotFound) {
				t.Fatalf("expected ErrTransactionNotFound, got %v", err)
			}
		})
	}
}

// TestCheckTransactionUpstreamUnavailable verifies that transport-level
// trouble is kept distinct from a definitive not-found.
func TestCheckTransactionUpstreamUnavailable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "internal error", http.StatusInternalServerError)
			},
		},
		{
			name: "html block page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte("<!DOCTYPE html><html><head><title>Access Denied</title></head><body>blocked</body></html>"))
			},
		},
		{
			name: "html behind 2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html><head><title>Maintenance</title></head></html>"))
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json at all"))
			},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := testClientAgainst(t, tc.handler)
			_, _, err := client.CheckTransactionByMD5(context.Background(), "ffffffffffffffffffffffffffffffff")
			if !errors.Is(err, ErrUpstreamUnavailable) {
				t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
			}
		})
	}
}

// TestBlockPageTitle verifies block page title behavior.
func TestBlockPageTitle(t *testing.T) {
	t.Parallel()

	title, ok := blockPageTitle([]byte("<html><head><title>ERROR: The request could not be satisfied</title></head></html>"))
	if !ok || title != "ERROR: The request could not be satisfied" {
		t.Fatalf("unexpected title: %q ok=%v", title, ok)
	}
	if _, ok := blockPageTitle([]byte(`{"responseCode":0}`)); ok {
		t.Fatalf("json body should not be detected as a block page")
	}
}
