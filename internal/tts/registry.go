package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrBackendUnavailable is returned when a backend could not be initialized.
var ErrBackendUnavailable = errors.New("synthesis backend unavailable")

// Factory builds the process-wide handle of one backend.
type Factory func(ctx context.Context) (Synthesizer, error)

// BackendStatus is a snapshot of one registry slot.
type BackendStatus struct {
	Backend       string    `json:"backend"`
	Ready         bool      `json:"ready"`
	LastError     string    `json:"last_error,omitempty"`
	InitializedAt time.Time `json:"initialized_at"`
}

type slot struct {
	mu        sync.Mutex
	factory   Factory
	handle    Synthesizer
	lastErr   error
	readyAt   time.Time
	initCount int
}

// Registry owns one lazily initialized handle per backend. Each slot has its
// own lock, so concurrent first callers construct the backend exactly once.
type Registry struct {
	log   *slog.Logger
	mu    sync.RWMutex
	slots map[Backend]*slot
	meter metric.Meter
	ready metric.Int64ObservableGauge
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		log:   log.With(slog.String("component", "tts-registry")),
		slots: make(map[Backend]*slot),
		meter: otel.Meter("github.com/loqalabs/loqa-translate/tts"),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slogError(err))
	}
	return r
}

// Register installs the factory for backend, replacing any previous slot.
func (r *Registry) Register(backend Backend, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[backend] = &slot{factory: factory}
}

// Ensure returns the shared handle of backend, constructing it on first use.
// A failed construction is logged and returned; the next call tries again.
func (r *Registry) Ensure(ctx context.Context, backend Backend) (Synthesizer, error) {
	r.mu.RLock()
	s, ok := r.slots[backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s not registered", ErrBackendUnavailable, backend)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return s.handle, nil
	}

	start := time.Now()
	handle, err := s.factory(ctx)
	if err == nil && handle == nil {
		err = errors.New("factory returned no synthesizer")
	}
	if err != nil {
		s.lastErr = err
		r.log.Warn("tts backend initialization failed", slog.String("backend", backend.String()), slogError(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, backend, err)
	}
	s.handle = handle
	s.lastErr = nil
	s.readyAt = time.Now().UTC()
	s.initCount++
	r.log.Info("tts backend initialized", slog.String("backend", backend.String()), slog.Duration("took", time.Since(start)))
	return handle, nil
}

// Preload initializes every registered backend. Failures are logged only;
// they surface later when a request is routed to the failed backend.
func (r *Registry) Preload(ctx context.Context) {
	for _, backend := range r.registered() {
		if _, err := r.Ensure(ctx, backend); err != nil {
			r.log.Warn("tts preload failed", slog.String("backend", backend.String()), slogError(err))
		}
	}
}

// Reset drops every cached handle so the next Ensure constructs again.
func (r *Registry) Reset() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.slots {
		s.mu.Lock()
		s.handle = nil
		s.lastErr = nil
		s.readyAt = time.Time{}
		s.initCount = 0
		s.mu.Unlock()
	}
}

// Status reports every registered slot in backend order.
func (r *Registry) Status() []BackendStatus {
	var out []BackendStatus
	for _, backend := range r.registered() {
		r.mu.RLock()
		s := r.slots[backend]
		r.mu.RUnlock()

		s.mu.Lock()
		st := BackendStatus{Backend: backend.String(), Ready: s.handle != nil, InitializedAt: s.readyAt}
		if s.lastErr != nil {
			st.LastError = s.lastErr.Error()
		}
		s.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func (r *Registry) initCounts() map[Backend]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Backend]int, len(r.slots))
	for b, s := range r.slots {
		s.mu.Lock()
		counts[b] = s.initCount
		s.mu.Unlock()
	}
	return counts
}

func (r *Registry) registered() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Backend
	for _, b := range Backends() {
		if _, ok := r.slots[b]; ok {
			out = append(out, b)
		}
	}
	return out
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("loqa.tts.backend.ready", metric.WithDescription("Whether a synthesis backend is initialized"))
	if err != nil {
		return err
	}
	r.ready = gauge
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		for _, st := range r.Status() {
			var v int64
			if st.Ready {
				v = 1
			}
			obs.ObserveInt64(gauge, v, metric.WithAttributes(attribute.String("backend", st.Backend)))
		}
		return nil
	}, gauge)
	return err
}

// RegisterFromConfig installs the factories selected by cfg.
func RegisterFromConfig(r *Registry, cfg config.TTSConfig) {
	r.Register(BackendIndic, backendFactory(cfg.Indic, 220))
	r.Register(BackendXTTS, backendFactory(cfg.XTTS, 330))
}

func backendFactory(cfg config.TTSBackendConfig, mockFrequency float64) Factory {
	return func(context.Context) (Synthesizer, error) {
		switch cfg.Mode {
		case "mock", "":
			return NewMockSynth(cfg.SampleRate, mockFrequency), nil
		case "exec":
			return NewExecSynth(cfg.Command, cfg.Model, cfg.Description, cfg.SampleRate)
		default:
			return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
