package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func tokenServer(t *testing.T, issued *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token%d","token_type":"bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetTokenCaches(t *testing.T) {
	var issued atomic.Int32
	srv := tokenServer(t, &issued)
	c := NewClientCred(Conf{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}, nil)

	for i := 0; i < 3; i++ {
		tok, err := c.GetToken(context.Background())
		if err != nil {
			t.Fatalf("GetToken returned error: %v", err)
		}
		if tok.AccessToken != "token1" {
			t.Fatalf("unexpected token %s", tok.AccessToken)
		}
	}
	if issued.Load() != 1 {
		t.Fatalf("expected one token request, got %d", issued.Load())
	}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if err := c.SetAuthHeader(req); err != nil {
		t.Fatalf("SetAuthHeader returned error: %v", err)
	}
	if auth := req.Header.Get("Authorization"); auth != "Bearer token1" {
		t.Fatalf("unexpected Authorization header %q", auth)
	}
}

func TestTransportRefreshesOnUnauthorized(t *testing.T) {
	var issued atomic.Int32
	tokens := tokenServer(t, &issued)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	c := NewClientCred(Conf{ClientID: "id", ClientSecret: "secret", TokenURL: tokens.URL}, nil)
	client := c.Client(&http.Client{})
	resp, err := client.Get(api.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after refresh, got %d", resp.StatusCode)
	}
	if issued.Load() != 2 {
		t.Fatalf("expected two token requests, got %d", issued.Load())
	}
}

func TestGetTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()
	c := NewClientCred(Conf{ClientID: "id", TokenURL: srv.URL}, nil)
	if _, err := c.GetToken(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if (Conf{}).Enabled() {
		t.Fatal("empty conf must be disabled")
	}
}
