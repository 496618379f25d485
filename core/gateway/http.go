package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/strategy"
)

// maxResponseBytes bounds a plugin answer.
const maxResponseBytes = 1 << 20

// HTTPPlugin is the network adapter of an external strategy. Deadlines come
// from the caller's context.
type HTTPPlugin struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPPlugin returns an adapter posting evaluation requests to url.
func NewHTTPPlugin(name, url string, client *http.Client) *HTTPPlugin {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPlugin{name: name, url: url, client: client}
}

func (p *HTTPPlugin) Name() string { return p.name }

// URL returns the callback address.
func (p *HTTPPlugin) URL() string { return p.url }

func (p *HTTPPlugin) Evaluate(ctx context.Context, in strategy.Input) (model.StrategyDecision, error) {
	body, err := json.Marshal(NewEvaluationRequest(in))
	if err != nil {
		return model.StrategyDecision{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return model.StrategyDecision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return model.StrategyDecision{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return model.StrategyDecision{}, &model.PluginProtocolError{Plugin: p.name, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	var bd BlockDecision
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&bd); err != nil {
		return model.StrategyDecision{}, &model.PluginProtocolError{Plugin: p.name, Reason: "malformed response: " + err.Error()}
	}
	return bd.ToDecision(p.name, in.Block)
}
