package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// GatewayHealth is the health snapshot of one gateway.
type GatewayHealth struct {
	Name          string           `json:"name"`
	CircuitState  string           `json:"circuitState"`
	Counts        gobreaker.Counts `json:"counts"`
	LastSuccessAt *time.Time       `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time       `json:"lastFailureAt,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
}

// Available is false only while the breaker is open.
func (h GatewayHealth) Available() bool {
	return h.CircuitState != gobreaker.StateOpen.String()
}

// Registry tracks the transports and delivery outcomes of every gateway.
type Registry struct {
	mu       sync.RWMutex
	now      func() time.Time
	gateways map[string]*tracked
}

type tracked struct {
	transport     *Transport
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

func NewRegistry() *Registry {
	return &Registry{now: time.Now, gateways: make(map[string]*tracked)}
}

// Register tracks name; transport may be nil for SDK-managed gateways.
func (r *Registry) Register(name string, transport *Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[name] = &tracked{transport: transport}
}

func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gateways[name]; ok {
		now := r.now()
		g.lastSuccessAt = &now
	}
}

func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gateways[name]; ok {
		now := r.now()
		g.lastFailureAt = &now
		if err != nil {
			g.lastError = err.Error()
		}
	}
}

// Available reports whether requests to name would currently be attempted.
// Gateways without a tracked transport are always available.
func (r *Registry) Available(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[name]
	if !ok || g.transport == nil {
		return true
	}
	return g.transport.State() != gobreaker.StateOpen
}

// Health returns a snapshot of name, or false if it is not registered.
func (r *Registry) Health(name string) (GatewayHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[name]
	if !ok {
		return GatewayHealth{}, false
	}
	return g.snapshot(name), true
}

// All returns every snapshot ordered by name.
func (r *Registry) All() []GatewayHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]GatewayHealth, 0, len(r.gateways))
	for name, g := range r.gateways {
		out = append(out, g.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (g *tracked) snapshot(name string) GatewayHealth {
	h := GatewayHealth{
		Name:          name,
		CircuitState:  gobreaker.StateClosed.String(),
		LastSuccessAt: g.lastSuccessAt,
		LastFailureAt: g.lastFailureAt,
		LastError:     g.lastError,
	}
	if g.transport != nil {
		h.CircuitState = g.transport.State().String()
		h.Counts = g.transport.Counts()
	}
	return h
}
