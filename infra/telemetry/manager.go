package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fluxgo/config"
	"github.com/kilianp07/fluxgo/core/engine"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/infra/logger"
)

// Subscriber delivers messages for a topic relative to the broker prefix.
type Subscriber interface {
	Subscribe(topic, kind string, fn func(topic string, payload []byte)) error
}

// Manager keeps the latest battery SOC pushed over MQTT and serves it as the
// cycle telemetry. Without a fresh reading it falls back to the last known
// or configured SOC and reports the reading as unavailable.
type Manager struct {
	cfg     config.TelemetryConfig
	battery model.BatteryModel
	log     logger.Logger
	now     func() time.Time

	mu   sync.RWMutex
	soc  float64
	at   time.Time
	seen bool

	messages *prometheus.CounterVec
	socGauge prometheus.Gauge
	lastSeen prometheus.Gauge
}

// NewManager returns a Manager reporting against battery. Collectors are
// registered on reg when it is not nil.
func NewManager(cfg config.TelemetryConfig, battery model.BatteryModel, initialSOC float64, reg prometheus.Registerer) *Manager {
	m := &Manager{
		cfg:      cfg,
		battery:  battery,
		log:      logger.New("telemetry"),
		now:      time.Now,
		soc:      initialSOC,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fluxgo_telemetry_messages_total", Help: "Number of battery telemetry messages by result"}, []string{"result"}),
		socGauge: prometheus.NewGauge(prometheus.GaugeOpts{Name: "fluxgo_battery_soc_percent", Help: "Last reported battery state of charge"}),
		lastSeen: prometheus.NewGauge(prometheus.GaugeOpts{Name: "fluxgo_telemetry_last_message_timestamp_seconds", Help: "Unix timestamp of the last telemetry message"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.messages, m.socGauge, m.lastSeen} {
			if err := reg.Register(c); err != nil {
				m.log.Warnf("register telemetry collector: %v", err)
			}
		}
	}
	return m
}

// Start subscribes to the SOC topic.
func (m *Manager) Start(sub Subscriber) error {
	if err := sub.Subscribe(m.cfg.SOCTopic(), "soc", m.onMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.cfg.SOCTopic(), err)
	}
	m.log.Infof("listening for battery SOC on %s", m.cfg.SOCTopic())
	return nil
}

func (m *Manager) onMessage(topic string, payload []byte) {
	if err := m.process(payload); err != nil {
		m.messages.WithLabelValues("invalid").Inc()
		m.log.Errorf("telemetry on %s: %v", topic, err)
		return
	}
	m.messages.WithLabelValues("ok").Inc()
}

func (m *Manager) process(payload []byte) error {
	var msg struct {
		SOC *float64 `json:"soc"`
		TS  *int64   `json:"ts"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		v, perr := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if perr != nil {
			return fmt.Errorf("decode soc: %w", err)
		}
		msg.SOC = &v
	}
	if msg.SOC == nil {
		return fmt.Errorf("payload has no soc")
	}
	soc := min(max(*msg.SOC, 0), 100)
	ts := m.now()
	if msg.TS != nil {
		ts = time.Unix(*msg.TS, 0)
	}

	m.mu.Lock()
	m.soc, m.at, m.seen = soc, ts, true
	m.mu.Unlock()
	m.socGauge.Set(soc)
	m.lastSeen.Set(float64(ts.Unix()))
	return nil
}

// Read returns the latest SOC. A missing or stale reading is served from the
// last known value with Available false.
func (m *Manager) Read(context.Context) (engine.Telemetry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fresh := m.seen && m.now().Sub(m.at) <= m.cfg.Stale()
	return engine.Telemetry{
		State:     model.BatteryState{SOC: m.soc},
		Battery:   m.battery,
		Available: fresh,
	}, nil
}
