package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/fluxgo/api"
	"github.com/kilianp07/fluxgo/app/plugins"
	"github.com/kilianp07/fluxgo/auth"
	"github.com/kilianp07/fluxgo/config"
	"github.com/kilianp07/fluxgo/core/audit"
	"github.com/kilianp07/fluxgo/core/engine"
	"github.com/kilianp07/fluxgo/core/events"
	"github.com/kilianp07/fluxgo/core/gateway"
	"github.com/kilianp07/fluxgo/core/governor"
	coremetrics "github.com/kilianp07/fluxgo/core/metrics"
	coremon "github.com/kilianp07/fluxgo/core/monitoring"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/strategy"
	"github.com/kilianp07/fluxgo/infra/logger"
	"github.com/kilianp07/fluxgo/infra/metrics"
	"github.com/kilianp07/fluxgo/infra/monitoring"
	"github.com/kilianp07/fluxgo/infra/mqtt"
	"github.com/kilianp07/fluxgo/infra/prices"
	"github.com/kilianp07/fluxgo/infra/telemetry"
	"github.com/kilianp07/fluxgo/internal/eventbus"
)

// Service wires the decision engine to its price source, telemetry, the
// inverter executor and the HTTP API.
type Service struct {
	Engine *engine.Engine
	API    *api.Server

	cfg       *config.Config
	prices    engine.PriceSource
	mqtt      *mqtt.Client
	telemetry *telemetry.Manager
	audit     audit.Store
	sink      coremetrics.MetricsSink
	bus       *eventbus.Bus
	pluginBus *eventbus.TypedBus[events.PluginHealthEvent]
	log       logger.Logger
}

// componentLogger returns the configured logger for a component.
func componentLogger(cfg *config.Config, component string) logger.Logger {
	if cfg.Logging.Backend == "nop" {
		return logger.NopLogger{}
	}
	return logger.New(component)
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	logg := componentLogger(cfg, "service")
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	store, err := audit.Open(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	svc := &Service{
		cfg:       cfg,
		audit:     store,
		sink:      sink,
		bus:       eventbus.NewWithBuffer(64),
		pluginBus: eventbus.NewTypedWithBuffer[events.PluginHealthEvent](16),
		log:       logg,
	}
	if err := svc.build(); err != nil {
		_ = svc.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) build() error {
	cfg := s.cfg
	reg, err := s.registry()
	if err != nil {
		return err
	}
	bat := cfg.Battery.Model()
	gov, err := governor.New(cfg.Governor.Governor(cfg.Inverters, cfg.TargetInverters), bat, governor.Options{
		Logger: componentLogger(cfg, "governor"),
		Bus:    s.bus,
		Audit:  s.audit,
	})
	if err != nil {
		return fmt.Errorf("governor: %w", err)
	}

	if cfg.MQTT.Broker != "" {
		s.mqtt, err = mqtt.NewClient(cfg.MQTT, componentLogger(cfg, "mqtt"))
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
	}
	tel, err := s.telemetrySource(bat)
	if err != nil {
		return err
	}
	s.prices = s.priceSource()

	deps := engine.Deps{
		Registry:  reg,
		Governor:  gov,
		Audit:     s.audit,
		Metrics:   s.sink,
		Bus:       s.bus,
		Logger:    componentLogger(cfg, "engine"),
		Prices:    s.prices,
		Telemetry: tel,
	}
	if s.mqtt != nil {
		deps.Executor = s.mqtt
	}
	s.Engine, err = engine.New(cfg.EngineConfig(), deps)
	if err != nil {
		return err
	}
	if cfg.Gateway.Listen != "" {
		s.API = api.NewServer(s.Engine, api.Options{
			Addr:     cfg.Gateway.Listen,
			Token:    cfg.Gateway.Token,
			Registry: prometheus.DefaultRegisterer,
			Gatherer: prometheus.DefaultGatherer,
			Logger:   componentLogger(cfg, "api"),
		})
	}
	return nil
}

// registry registers the configured built-in strategies. Overrides from the
// top-level section are added as a user_override strategy.
func (s *Service) registry() (*gateway.Registry, error) {
	cfg := s.cfg
	reg := gateway.NewRegistry(gateway.Options{
		Timeout:     cfg.Gateway.Timeout(),
		MaxFailures: cfg.Gateway.MaxFailures,
		Logger:      componentLogger(cfg, "gateway"),
		Bus:         s.pluginBus,
	})
	strats, err := plugins.NewStrategies(cfg.Strategies)
	if err != nil {
		return nil, fmt.Errorf("strategies: %w", err)
	}
	if len(cfg.Overrides) > 0 {
		o, err := strategy.NewUserOverride("", strategy.OverrideConfig{Slots: cfg.Overrides})
		if err != nil {
			return nil, fmt.Errorf("overrides: %w", err)
		}
		strats = append(strats, o)
	}
	for _, st := range strats {
		if err := reg.RegisterBuiltin(st); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (s *Service) telemetrySource(bat model.BatteryModel) (engine.TelemetrySource, error) {
	if s.cfg.Telemetry.Mode != "mqtt" {
		return engine.StaticTelemetry{Telemetry: engine.Telemetry{
			State:     model.BatteryState{SOC: s.cfg.Battery.InitialSOC},
			Battery:   bat,
			Available: true,
		}}, nil
	}
	if s.mqtt == nil {
		return nil, errors.New("telemetry mode mqtt requires mqtt.broker")
	}
	s.telemetry = telemetry.NewManager(s.cfg.Telemetry, bat, s.cfg.Battery.InitialSOC, prometheus.DefaultRegisterer)
	if err := s.telemetry.Start(s.mqtt); err != nil {
		return nil, err
	}
	return s.telemetry, nil
}

func (s *Service) priceSource() engine.PriceSource {
	pc := s.cfg.Prices
	switch pc.Type {
	case "synthetic":
		return prices.NewSyntheticSource(pc.Synthetic)
	case "http":
		client := &http.Client{Timeout: 30 * time.Second}
		if pc.Auth.Enabled() {
			client = auth.NewClientCred(pc.Auth, nil).Client(client)
		}
		return prices.NewHTTPSource(pc.URL, client, pc.MaxRetries, componentLogger(s.cfg, "prices"))
	default:
		return prices.NewFileSource(pc.Path)
	}
}

// Run starts the engine, the price watcher and the API. It blocks until the
// context is canceled or a component fails.
func (s *Service) Run(ctx context.Context) error {
	metrics.StartEventCollector(ctx, s.bus, s.sink)
	metrics.StartPluginHealthCollector(ctx, s.pluginBus, s.sink)

	g, ctx := errgroup.WithContext(ctx)
	if s.API != nil {
		g.Go(func() error { return s.API.Start(ctx) })
	}
	poll := time.Duration(s.cfg.Prices.PollSecs) * time.Second
	updates := prices.Watch(ctx, s.prices, poll, componentLogger(s.cfg, "prices"))
	g.Go(func() error {
		err := s.Engine.Run(ctx, updates)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	s.bus.Close()
	s.pluginBus.Close()
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
