package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/kilianp07/fluxgo/core/model"
)

func schedule() model.Schedule {
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return model.Schedule{
		CycleID: "c1",
		Entries: []model.ScheduleEntry{
			{BlockStart: t0, DurationMinutes: 15, Mode: model.ForceCharge, StrategyName: "budget", Priority: 50, Price: 0.05, Reason: "cheapest block"},
			{BlockStart: t0.Add(15 * time.Minute), DurationMinutes: 15, Mode: model.SelfUse, StrategyName: "self_use", Priority: 10, Price: 0.3, Reason: "default"},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, "csv", schedule()); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "2024-05-01T00:00:00Z" || rows[1][2] != "ForceCharge" || rows[1][5] != "0.05" {
		t.Fatalf("unexpected row %v", rows[1])
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, "json", schedule()); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got model.Schedule
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CycleID != "c1" || len(got.Entries) != 2 {
		t.Fatalf("unexpected schedule %+v", got)
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, "xml", schedule()); err == nil {
		t.Fatal("expected error")
	}
}
