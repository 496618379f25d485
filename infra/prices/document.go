// Package prices provides engine price sources: an HTTP forecast endpoint
// polled with exponential backoff and a JSON or YAML fixture file.
package prices

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kilianp07/fluxgo/core/blocks"
	"github.com/kilianp07/fluxgo/core/engine"
	"github.com/kilianp07/fluxgo/core/logger"
	"github.com/kilianp07/fluxgo/core/model"
)

// Document is the price feed format shared by both sources.
type Document struct {
	AsOf            time.Time              `json:"as_of" yaml:"as_of"`
	Version         string                 `json:"version" yaml:"version"`
	Forecast        []blocks.ForecastEntry `json:"forecast" yaml:"forecast"`
	SolarKWh        []float64              `json:"solar_kwh" yaml:"solar_kwh"`
	ConsumptionKWh  []float64              `json:"consumption_kwh" yaml:"consumption_kwh"`
	GridExportPrice float64                `json:"grid_export_price" yaml:"grid_export_price"`
	Historical      struct {
		GridImportTodayKWh  *float64 `json:"grid_import_today_kwh" yaml:"grid_import_today_kwh"`
		ConsumptionTodayKWh *float64 `json:"consumption_today_kwh" yaml:"consumption_today_kwh"`
	} `json:"historical" yaml:"historical"`
}

// Snapshot converts the document. raw versions the snapshot when the
// document carries no version; asOf is used when it carries no timestamp.
func (d Document) Snapshot(raw []byte, asOf time.Time) (engine.Snapshot, error) {
	points, err := blocks.FromForecastArray(d.Forecast)
	if err != nil {
		return engine.Snapshot{}, err
	}
	s := engine.Snapshot{
		Prices:  points,
		AsOf:    d.AsOf,
		Version: d.Version,
		Forecast: model.Forecast{
			SolarKWh:       d.SolarKWh,
			ConsumptionKWh: d.ConsumptionKWh,
			ExportPrice:    d.GridExportPrice,
		},
		Historical: model.Historical{
			GridImportTodayKWh:  d.Historical.GridImportTodayKWh,
			ConsumptionTodayKWh: d.Historical.ConsumptionTodayKWh,
		},
	}
	if s.AsOf.IsZero() {
		s.AsOf = asOf
	}
	if s.Version == "" {
		sum := sha256.Sum256(raw)
		s.Version = hex.EncodeToString(sum[:8])
	}
	return s, nil
}

// Watch calls fetch every interval and sends each snapshot whose version
// changed. The channel is closed when ctx is done.
func Watch(ctx context.Context, src engine.PriceSource, interval time.Duration, log logger.Logger) <-chan engine.Snapshot {
	out := make(chan engine.Snapshot, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := ""
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			snap, err := src.Fetch(ctx)
			if err != nil {
				if log != nil {
					log.Warnf("price poll: %v", err)
				}
				continue
			}
			if snap.Version == last {
				continue
			}
			last = snap.Version
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
