package prices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fluxgo/core/engine"
)

const feedJSON = `{
  "as_of": "2024-05-01T00:00:00Z",
  "forecast": [
    {"start": "2024-05-01T00:15:00Z", "end": "2024-05-01T00:30:00Z", "price": 0.30},
    {"start": "2024-05-01T00:00:00Z", "end": "2024-05-01T00:15:00Z", "price": 0.05}
  ],
  "solar_kwh": [0, 0.5],
  "grid_export_price": 0.04,
  "historical": {"grid_import_today_kwh": 3.5}
}`

const feedYAML = `version: fixture-1
forecast:
  - start: 2024-05-01T00:00:00Z
    end: 2024-05-01T01:00:00Z
    price: 0.12
consumption_kwh: [0.3, 0.3, 0.3, 0.3]
`

func TestHTTPSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	snap, err := NewHTTPSource(srv.URL, nil, 0, nil).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Prices, 2)
	assert.Equal(t, 0.05, snap.Prices[0].Price, "entries are sorted by start")
	assert.Equal(t, 15*time.Minute, snap.Prices[0].Duration)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), snap.AsOf)
	assert.NotEmpty(t, snap.Version)
	assert.Equal(t, 0.04, snap.Forecast.ExportPrice)
	require.NotNil(t, snap.Historical.GridImportTodayKWh)
	assert.Equal(t, 3.5, *snap.Historical.GridImportTodayKWh)
	assert.Nil(t, snap.Historical.ConsumptionTodayKWh)
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, nil, 3, nil)
	src.initial = time.Millisecond
	_, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSource_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, nil, 3, nil)
	src.initial = time.Millisecond
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSource_BadEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"forecast":[{"start":"2024-05-01T01:00:00Z","end":"2024-05-01T00:00:00Z","price":1}]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, nil, 0, nil).Fetch(context.Background())
	require.Error(t, err)
}

func TestFileSource_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "prices.yaml")
	require.NoError(t, os.WriteFile(yml, []byte(feedYAML), 0o644))
	snap, err := NewFileSource(yml).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Prices, 1)
	assert.Equal(t, time.Hour, snap.Prices[0].Duration)
	assert.Equal(t, "fixture-1", snap.Version)
	assert.False(t, snap.AsOf.IsZero(), "mod time stands in for as_of")
	assert.Len(t, snap.Forecast.ConsumptionKWh, 4)

	js := filepath.Join(dir, "prices.json")
	require.NoError(t, os.WriteFile(js, []byte(feedJSON), 0o644))
	snap, err = NewFileSource(js).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Prices, 2)

	_, err = NewFileSource(filepath.Join(dir, "prices.csv")).Fetch(context.Background())
	require.Error(t, err)
}

type seqSource struct {
	versions []string
	n        atomic.Int32
}

func (s *seqSource) Fetch(context.Context) (engine.Snapshot, error) {
	i := int(s.n.Add(1)) - 1
	if i >= len(s.versions) {
		i = len(s.versions) - 1
	}
	return engine.Snapshot{Version: s.versions[i]}, nil
}

func TestWatch_EmitsOnVersionChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &seqSource{versions: []string{"a", "a", "b", "b"}}
	ch := Watch(ctx, src, time.Millisecond, nil)

	var got []string
	for snap := range ch {
		got = append(got, snap.Version)
		if len(got) == 2 {
			cancel()
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSyntheticSource(t *testing.T) {
	src := NewSyntheticSource(SyntheticConfig{Seed: 7, JitterPct: 0.05})
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := src.Generate(start, start)
	b := src.Generate(start, start)
	require.Len(t, a.Prices, 96)
	assert.Equal(t, a.Prices, b.Prices)
	assert.Equal(t, a.Version, b.Version)

	evening := a.Prices[19*4].Price
	night := a.Prices[3*4].Price
	assert.Greater(t, evening, night)
	for i := 1; i < len(a.Prices); i++ {
		assert.Equal(t, a.Prices[i-1].End(), a.Prices[i].Start)
	}

	src.now = func() time.Time { return start.Add(90 * time.Minute) }
	snap, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), snap.Prices[0].Start)
}
