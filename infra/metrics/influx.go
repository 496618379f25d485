package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/fluxgo/core/events"
	coremetrics "github.com/kilianp07/fluxgo/core/metrics"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/infra/logger"
)

// InfluxSink writes planning events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(points ...*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordCycle writes one planning_cycle point.
func (s *InfluxSink) RecordCycle(ev events.CycleEvent) error {
	p := write.NewPointWithMeasurement("planning_cycle").
		AddTag("cycle_id", ev.CycleID).
		AddTag("trigger", ev.Trigger).
		AddTag("health", ev.Health).
		AddField("blocks", ev.Blocks).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		AddField("aborted", ev.Err != nil).
		SetTime(ev.StartedAt)
	return s.write(p)
}

// RecordFallback writes a strategy_fallback point.
func (s *InfluxSink) RecordFallback(ev events.FallbackEvent) error {
	p := write.NewPointWithMeasurement("strategy_fallback").
		AddTag("cycle_id", ev.CycleID).
		AddTag("strategy", ev.Strategy).
		AddTag("timeout", strconv.FormatBool(ev.Timeout)).
		AddField("reason", ev.Reason).
		SetTime(ev.Block)
	return s.write(p)
}

// RecordModeChange writes a mode_change point.
func (s *InfluxSink) RecordModeChange(ev events.ModeChangeEvent) error {
	p := write.NewPointWithMeasurement("mode_change").
		AddTag("inverter", ev.Inverter).
		AddTag("from", ev.From.String()).
		AddTag("to", ev.To.String()).
		AddField("command_id", ev.CommandID).
		AddField("decision_id", ev.DecisionID).
		AddField("reason", ev.Reason).
		SetTime(ev.At)
	return s.write(p)
}

// RecordViolation writes a governor_violation point.
func (s *InfluxSink) RecordViolation(ev events.ViolationEvent) error {
	v := ev.Violation
	p := write.NewPointWithMeasurement("governor_violation").
		AddTag("inverter", v.Inverter).
		AddTag("constraint", v.Constraint).
		AddTag("deferred", strconv.FormatBool(ev.Deferred)).
		AddField("requested", v.Requested.String()).
		AddField("held", v.Held.String()).
		AddField("detail", v.Detail).
		SetTime(ev.At)
	return s.write(p)
}

// RecordSchedule writes one schedule_entry point per block.
func (s *InfluxSink) RecordSchedule(sch model.Schedule) error {
	points := make([]*write.Point, 0, len(sch.Entries))
	for _, e := range sch.Entries {
		points = append(points, write.NewPointWithMeasurement("schedule_entry").
			AddTag("cycle_id", sch.CycleID).
			AddTag("mode", e.Mode.String()).
			AddTag("strategy", e.StrategyName).
			AddField("priority", int(e.Priority)).
			AddField("price", round3(e.Price)).
			AddField("decision_id", e.DecisionID).
			SetTime(e.BlockStart))
	}
	return s.write(points...)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
