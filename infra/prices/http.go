package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/fluxgo/core/engine"
	"github.com/kilianp07/fluxgo/core/logger"
)

// HTTPSource fetches a Document from a JSON endpoint.
type HTTPSource struct {
	url        string
	client     *http.Client
	maxRetries int
	initial    time.Duration
	log        logger.Logger
	now        func() time.Time
}

// NewHTTPSource returns a source for url. A nil client uses a client with a
// 10s timeout.
func NewHTTPSource(url string, client *http.Client, maxRetries int, log logger.Logger) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{url: url, client: client, maxRetries: maxRetries, initial: 500 * time.Millisecond, log: log, now: time.Now}
}

// Fetch downloads and decodes the document, retrying transient failures with
// exponential backoff. 4xx answers are not retried.
func (s *HTTPSource) Fetch(ctx context.Context) (engine.Snapshot, error) {
	var body []byte
	var fetchedAt time.Time
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			s.warnf("price fetch attempt %d: %v", attempt, err)
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("price feed returned %s", resp.Status))
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("price feed returned %s", resp.Status)
			s.warnf("price fetch attempt %d: %v", attempt, err)
			return err
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		fetchedAt = s.now()
		if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
			fetchedAt = lm
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxRetries)), ctx)); err != nil {
		return engine.Snapshot{}, fmt.Errorf("fetch %s: %w", s.url, err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return engine.Snapshot{}, fmt.Errorf("decode price feed: %w", err)
	}
	return doc.Snapshot(body, fetchedAt)
}

func (s *HTTPSource) warnf(format string, args ...any) {
	if s.log != nil {
		s.log.Warnf(format, args...)
	}
}
