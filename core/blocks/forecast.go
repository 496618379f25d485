package blocks

import (
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/fluxgo/core/model"
)

// ForecastEntry is the {start, end, price} shape price feeds publish.
type ForecastEntry struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
	Price float64   `json:"price" yaml:"price"`
}

// FromForecastArray converts feed entries into a sorted price series.
func FromForecastArray(entries []ForecastEntry) ([]model.PricePoint, error) {
	points := make([]model.PricePoint, 0, len(entries))
	for i, e := range entries {
		if !e.End.After(e.Start) {
			return nil, &model.InputError{Reason: fmt.Sprintf("forecast entry %d ends before it starts", i)}
		}
		points = append(points, model.PricePoint{Start: e.Start, Duration: e.End.Sub(e.Start), Price: e.Price})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Start.Before(points[j].Start) })
	return points, nil
}
