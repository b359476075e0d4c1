package motion

import (
	"slices"
	"sync"

	"github.com/tphakala/motioncam/internal/conf"
)

// Factory builds a strategy from the motion settings.
type Factory func(cfg conf.MotionSettings) (Strategy, error)

// Registry maps modes to strategy factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Mode]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Mode]Factory)}
}

// DefaultRegistry returns a registry with the three built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ModeBackgroundModel, func(cfg conf.MotionSettings) (Strategy, error) {
		return NewBackgroundModel(cfg), nil
	})
	r.Register(ModePointTracking, func(cfg conf.MotionSettings) (Strategy, error) {
		return NewPointTracker(cfg), nil
	})
	r.Register(ModeChromaticityEdge, func(cfg conf.MotionSettings) (Strategy, error) {
		return NewChromaEdgeModel(cfg), nil
	})
	return r
}

// Register binds a factory to mode, replacing any previous binding.
func (r *Registry) Register(mode Mode, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[mode] = factory
}

// Lookup returns the factory for mode.
func (r *Registry) Lookup(mode Mode) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[mode]
	return f, ok
}

// Modes returns the registered modes in sorted order.
func (r *Registry) Modes() []Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modes := make([]Mode, 0, len(r.factories))
	for m := range r.factories {
		modes = append(modes, m)
	}
	slices.Sort(modes)
	return modes
}
