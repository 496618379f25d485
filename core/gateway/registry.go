package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fluxgo/core/events"
	"github.com/kilianp07/fluxgo/core/logger"
	"github.com/kilianp07/fluxgo/core/strategy"
	"github.com/kilianp07/fluxgo/internal/eventbus"
)

const (
	// DefaultTimeout bounds a single plugin call.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxFailures disables a handle after this many consecutive failures.
	DefaultMaxFailures = 3
)

// State is the health of a handle.
type State string

const (
	StateEnabled  State = "enabled"
	StateDegraded State = "degraded"
	StateDisabled State = "disabled"
)

// Handle identifies one decision source and its health.
type Handle struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Callback    string `json:"callback_url,omitempty"`
	Builtin     bool   `json:"builtin"`
	// Order is the registration rank used as the final merge tie-break.
	Order int `json:"order"`
	// PriorityOverride replaces the priority of every decision when set.
	PriorityOverride *uint8    `json:"priority_override,omitempty"`
	Enabled          bool      `json:"enabled"`
	AutoDisabled     bool      `json:"auto_disabled"`
	Unregistered     bool      `json:"unregistered"`
	Failures         int       `json:"consecutive_failures"`
	TotalFailures    int       `json:"total_failures"`
	LastError        string    `json:"last_error,omitempty"`
	LastSuccess      time.Time `json:"last_success,omitempty"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
	RegisteredAt     time.Time `json:"registered_at"`

	Strategy strategy.Strategy `json:"-"`
}

// State derives the health state.
func (h Handle) State() State {
	switch {
	case !h.Enabled:
		return StateDisabled
	case h.Failures > 0:
		return StateDegraded
	default:
		return StateEnabled
	}
}

// Options configure a Registry.
type Options struct {
	Timeout     time.Duration
	MaxFailures int
	Client      *http.Client
	Logger      logger.Logger
	Bus         *eventbus.TypedBus[events.PluginHealthEvent]
	Now         func() time.Time
}

// Registry is the owned set of strategy handles. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	order   []string
	next    int

	timeout     time.Duration
	maxFailures int
	client      *http.Client
	log         logger.Logger
	bus         *eventbus.TypedBus[events.PluginHealthEvent]
	now         func() time.Time
}

// ErrNotFound is returned for unknown handle names.
var ErrNotFound = errors.New("strategy handle not found")

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		handles:     make(map[string]*Handle),
		timeout:     opts.Timeout,
		maxFailures: opts.MaxFailures,
		client:      opts.Client,
		log:         opts.Logger,
		bus:         opts.Bus,
		now:         opts.Now,
	}
}

// Timeout returns the per-call deadline for external handles.
func (r *Registry) Timeout() time.Duration { return r.timeout }

// MaxFailures returns the consecutive failure threshold.
func (r *Registry) MaxFailures() int { return r.maxFailures }

// RegisterBuiltin adds an in-process strategy.
func (r *Registry) RegisterBuiltin(s strategy.Strategy) error {
	if s == nil || s.Name() == "" {
		return fmt.Errorf("builtin strategy must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[s.Name()]; ok {
		return fmt.Errorf("strategy %s already registered", s.Name())
	}
	r.add(&Handle{
		ID:       "builtin:" + s.Name(),
		Name:     s.Name(),
		Builtin:  true,
		Enabled:  true,
		Strategy: s,
	})
	return nil
}

func (r *Registry) add(h *Handle) {
	h.Order = r.next
	h.RegisteredAt = r.now()
	r.next++
	r.handles[h.Name] = h
	r.order = append(r.order, h.Name)
}

// Register adds an external plugin or updates an existing one. Updating keeps
// the registration order and failure history, applies the new callback and
// priority and clears an automatic disable.
func (r *Registry) Register(req RegistrationRequest) (RegistrationResponse, error) {
	if err := req.Validate(); err != nil {
		return RegistrationResponse{Success: false, Error: err.Error()}, err
	}
	m := req.Manifest
	prio := uint8(m.DefaultPriority)
	r.mu.Lock()
	h, ok := r.handles[m.Name]
	if ok && h.Builtin {
		r.mu.Unlock()
		err := fmt.Errorf("plugin name %s conflicts with a built-in strategy", m.Name)
		return RegistrationResponse{Success: false, Error: err.Error()}, err
	}
	if !ok {
		h = &Handle{ID: uuid.NewString(), Name: m.Name}
		r.add(h)
	}
	h.Version = m.Version
	h.Description = m.Description
	h.Callback = req.CallbackURL
	h.PriorityOverride = &prio
	h.Enabled = m.IsEnabled()
	h.AutoDisabled = false
	h.Unregistered = false
	h.Failures = 0
	h.Strategy = NewHTTPPlugin(m.Name, req.CallbackURL, r.client)
	snap := *h
	r.mu.Unlock()

	r.logf("registered plugin %s %s at %s priority %d", m.Name, m.Version, req.CallbackURL, prio)
	r.publish(snap, nil)
	return RegistrationResponse{Success: true, PluginID: snap.ID}, nil
}

// Unregister disables a plugin while keeping its health history.
func (r *Registry) Unregister(name string) error {
	snap, err := r.update(name, func(h *Handle) error {
		if h.Builtin {
			return fmt.Errorf("built-in strategy %s cannot be unregistered", name)
		}
		h.Enabled = false
		h.Unregistered = true
		return nil
	})
	if err == nil {
		r.publish(snap, nil)
	}
	return err
}

// Enable re-enables a handle and resets its failure counter.
func (r *Registry) Enable(name string) error {
	snap, err := r.update(name, func(h *Handle) error {
		if h.Unregistered {
			return fmt.Errorf("plugin %s is unregistered, register it again", name)
		}
		h.Enabled = true
		h.AutoDisabled = false
		h.Failures = 0
		return nil
	})
	if err == nil {
		r.publish(snap, nil)
	}
	return err
}

// Disable turns a handle off until it is enabled again.
func (r *Registry) Disable(name string) error {
	snap, err := r.update(name, func(h *Handle) error {
		h.Enabled = false
		h.AutoDisabled = false
		return nil
	})
	if err == nil {
		r.publish(snap, nil)
	}
	return err
}

// SetPriority overrides the priority of every decision of a handle.
func (r *Registry) SetPriority(name string, p uint8) error {
	if p > 100 {
		return fmt.Errorf("priority %d out of range", p)
	}
	_, err := r.update(name, func(h *Handle) error {
		h.PriorityOverride = &p
		return nil
	})
	return err
}

// RecordSuccess resets the consecutive failure counter.
func (r *Registry) RecordSuccess(name string) {
	var changed bool
	snap, _ := r.update(name, func(h *Handle) error {
		changed = h.Failures > 0
		h.Failures = 0
		h.LastSuccess = r.now()
		return nil
	})
	if changed {
		r.publish(snap, nil)
	}
}

// RecordFailure counts a failed call and disables the handle once the
// threshold is reached. It reports whether the handle was disabled by this call.
func (r *Registry) RecordFailure(name string, cause error) bool {
	disabled := false
	snap, err := r.update(name, func(h *Handle) error {
		h.Failures++
		h.TotalFailures++
		h.LastFailure = r.now()
		if cause != nil {
			h.LastError = cause.Error()
		}
		if h.Enabled && h.Failures >= r.maxFailures {
			h.Enabled = false
			h.AutoDisabled = true
			disabled = true
		}
		return nil
	})
	if err != nil {
		return false
	}
	if disabled {
		r.warnf("strategy %s disabled after %d consecutive failures: %v", name, snap.Failures, cause)
	}
	r.publish(snap, cause)
	return disabled
}

// Active returns the enabled handles in registration order.
func (r *Registry) Active() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.order))
	for _, name := range r.order {
		if h := r.handles[name]; h.Enabled {
			out = append(out, *h)
		}
	}
	return out
}

// Snapshot returns every handle in registration order.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.handles[name])
	}
	return out
}

// Get returns a copy of the named handle.
func (r *Registry) Get(name string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return *h, nil
}

// Probe calls every automatically disabled plugin once with in and re-enables
// those that answer correctly. It returns the re-enabled names.
func (r *Registry) Probe(ctx context.Context, in strategy.Input) []string {
	var candidates []Handle
	r.mu.RLock()
	for _, name := range r.order {
		if h := r.handles[name]; h.AutoDisabled && !h.Unregistered {
			candidates = append(candidates, *h)
		}
	}
	r.mu.RUnlock()

	var enabled []string
	for _, h := range candidates {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		_, err := h.Strategy.Evaluate(callCtx, in)
		cancel()
		if err != nil {
			r.logf("probe of %s failed: %v", h.Name, err)
			continue
		}
		if err := r.Enable(h.Name); err == nil {
			r.logf("probe of %s succeeded, re-enabled", h.Name)
			enabled = append(enabled, h.Name)
		}
	}
	return enabled
}

func (r *Registry) update(name string, fn func(*Handle) error) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := fn(h); err != nil {
		return Handle{}, err
	}
	return *h, nil
}

func (r *Registry) publish(h Handle, err error) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.PluginHealthEvent{Plugin: h.Name, State: string(h.State()), Failures: h.Failures, Err: err})
}

func (r *Registry) logf(format string, args ...any) {
	if r.log != nil {
		r.log.Infof(format, args...)
	}
}

func (r *Registry) warnf(format string, args ...any) {
	if r.log != nil {
		r.log.Warnf(format, args...)
	}
}
