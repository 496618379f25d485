// Package api exposes the engine over HTTP: plugin registration and control,
// the current schedule, system health, the audit trail and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/fluxgo/core/audit"
	"github.com/kilianp07/fluxgo/core/engine"
	"github.com/kilianp07/fluxgo/core/gateway"
	"github.com/kilianp07/fluxgo/core/governor"
	"github.com/kilianp07/fluxgo/core/health"
	"github.com/kilianp07/fluxgo/infra/logger"
)

// Options configure a Server.
type Options struct {
	Addr string
	// Token guards the mutating plugin routes and /audit when non-empty.
	Token    string
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer
	Logger   logger.Logger
}

// Server serves the engine API.
type Server struct {
	mu       sync.Mutex
	addr     string
	token    string
	eng      *engine.Engine
	log      logger.Logger
	srv      *http.Server
	gatherer prometheus.Gatherer
	requests *prometheus.CounterVec
}

// NewServer creates a Server for eng. Nil registerer and gatherer use the
// Prometheus defaults.
func NewServer(eng *engine.Engine, opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("api")
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgo_api_requests_total",
		Help: "API requests by route and status code",
	}, []string{"route", "code"})
	if err := opts.Registry.Register(requests); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if exist, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				requests = exist
			} else {
				opts.Logger.Errorf("existing collector for fluxgo_api_requests_total has wrong type %T", are.ExistingCollector)
			}
		}
	}
	return &Server{
		addr:     opts.Addr,
		token:    opts.Token,
		eng:      eng,
		log:      opts.Logger,
		gatherer: opts.Gatherer,
		requests: requests,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, route string, h http.HandlerFunc, guarded bool) {
		if guarded {
			h = s.authorize(h)
		}
		mux.Handle(pattern, s.count(route, h))
	}
	handle("GET /ping", "ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("pong")); err != nil {
			s.log.Errorf("write pong: %v", err)
		}
	}, false)
	handle("POST /plugins/register", "plugins_register", s.handleRegister, true)
	handle("DELETE /plugins/{name}", "plugins_unregister", s.handleUnregister, true)
	handle("POST /plugins/{name}/enable", "plugins_enable", s.handleEnable, true)
	handle("POST /plugins/{name}/disable", "plugins_disable", s.handleDisable, true)
	handle("PUT /plugins/{name}/priority", "plugins_priority", s.handlePriority, true)
	handle("GET /plugins", "plugins", s.handlePlugins, false)
	handle("GET /schedule", "schedule", s.handleSchedule, false)
	handle("GET /health", "health", s.handleHealth, false)
	handle("GET /audit", "audit", NewAuditHandler(s.eng.Audit()).ServeHTTP, true)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler { return s.routes() }

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) count(route string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h.ServeHTTP(rec, r)
		s.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

func (s *Server) authorize(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

type healthResponse struct {
	health.Report
	Plugins   []gateway.Handle `json:"plugins"`
	Inverters []governor.State `json:"inverters"`
	Schedule  string           `json:"schedule_cycle_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Report:    s.eng.Health(),
		Plugins:   s.eng.Registry().Snapshot(),
		Inverters: s.eng.Governor().States(),
		Schedule:  s.eng.Current().CycleID,
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	sch := s.eng.Current()
	if sch.Empty() {
		http.Error(w, "no schedule planned yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the listening address once Start has been called.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.routes()
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.srv = srv
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("shutdown server: %v", err)
		}
		cancel()
	}()
	s.log.Infof("API listening on %s", ln.Addr())
	err = srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// auditPlugin records an operator action on a plugin.
func (s *Server) auditPlugin(r *http.Request, name, reason string) {
	rec := audit.Record{Timestamp: time.Now(), Kind: audit.KindPlugin, Strategy: name, Reason: reason}
	if err := s.eng.Audit().Append(r.Context(), rec); err != nil {
		s.log.Warnf("audit append: %v", err)
	}
}
