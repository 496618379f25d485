// Package export writes schedules for operators and external tools.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/fluxgo/core/model"
)

// WriteJSON writes the schedule as indented JSON.
func WriteJSON(w io.Writer, s model.Schedule) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteCSV writes one row per block.
func WriteCSV(w io.Writer, s model.Schedule) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"block_start", "duration_minutes", "mode", "strategy", "priority", "price", "reason"}); err != nil {
		return err
	}
	for _, e := range s.Entries {
		rec := []string{
			e.BlockStart.UTC().Format(time.RFC3339),
			strconv.Itoa(e.DurationMinutes),
			e.Mode.String(),
			e.StrategyName,
			strconv.Itoa(int(e.Priority)),
			strconv.FormatFloat(e.Price, 'f', -1, 64),
			e.Reason,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write dispatches on format: json or csv.
func Write(w io.Writer, format string, s model.Schedule) error {
	switch format {
	case "", "json":
		return WriteJSON(w, s)
	case "csv":
		return WriteCSV(w, s)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
