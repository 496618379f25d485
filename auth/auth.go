// Package auth signs outgoing requests with OAuth2 client-credentials tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCred obtains and caches access tokens.
type ClientCred struct {
	conf clientcredentials.Config
	base http.RoundTripper

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClientCred returns a ClientCred fetching tokens through base. A nil base
// uses http.DefaultTransport.
func NewClientCred(conf Conf, base http.RoundTripper) *ClientCred {
	if base == nil {
		base = http.DefaultTransport
	}
	return &ClientCred{conf: conf.toOauth2Config(), base: base}
}

// GetToken returns the cached token while it is valid and requests a new one
// otherwise.
func (c *ClientCred) GetToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid() {
		return c.token, nil
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: c.base})
	tok, err := c.conf.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	c.token = tok
	return tok, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *ClientCred) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// SetAuthHeader sets the bearer token on r.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	tok, err := c.GetToken(r.Context())
	if err != nil {
		return err
	}
	tok.SetAuthHeader(r)
	return nil
}

// Client returns a copy of base whose requests are signed.
func (c *ClientCred) Client(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	cp := *base
	cp.Transport = &Transport{Creds: c, Base: c.base}
	if base.Transport != nil {
		cp.Transport = &Transport{Creds: c, Base: base.Transport}
	}
	return &cp
}

// Transport signs requests. A 401 answer drops the cached token and a
// body-less request is retried once with a fresh token.
type Transport struct {
	Creds *ClientCred
	Base  http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	signed := req.Clone(req.Context())
	if err := t.Creds.SetAuthHeader(signed); err != nil {
		return nil, err
	}
	resp, err := base.RoundTrip(signed)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || req.Body != nil {
		return resp, err
	}
	_ = resp.Body.Close()
	t.Creds.Invalidate()
	retry := req.Clone(req.Context())
	if err := t.Creds.SetAuthHeader(retry); err != nil {
		return nil, err
	}
	return base.RoundTrip(retry)
}
