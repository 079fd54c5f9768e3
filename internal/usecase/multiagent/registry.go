package multiagent

import (
	"fmt"
	"log/slog"

	"teacher-agent/internal/domain"
)

// Registry is the static capability table. It is built once at start-up and
// never mutated afterwards, so reads need no locking.
type Registry struct {
	caps        map[domain.CapabilityName]domain.Capability
	order       []domain.CapabilityName
	defaultName domain.CapabilityName
}

// NewRegistry builds a registry from caps. defaultName must be among them.
func NewRegistry(defaultName domain.CapabilityName, logger *slog.Logger, caps ...domain.Capability) (*Registry, error) {
	r := &Registry{
		caps:        make(map[domain.CapabilityName]domain.Capability, len(caps)),
		defaultName: defaultName,
	}
	for _, c := range caps {
		name := c.Descriptor().Name
		if name == "" {
			return nil, fmt.Errorf("register capability: empty name: %w", domain.ErrInvalidInput)
		}
		if _, dup := r.caps[name]; dup {
			return nil, fmt.Errorf("register capability %q: %w", name, domain.ErrDuplicate)
		}
		r.caps[name] = c
		r.order = append(r.order, name)
		if logger != nil {
			logger.Debug("capability registered", "capability", name)
		}
	}
	if _, ok := r.caps[defaultName]; !ok {
		return nil, fmt.Errorf("default capability %q: %w", defaultName, domain.ErrCapabilityNotFound)
	}
	return r, nil
}

// List returns every descriptor in registration order.
func (r *Registry) List() []domain.CapabilityDescriptor {
	out := make([]domain.CapabilityDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caps[name].Descriptor())
	}
	return out
}

// Get returns the named capability.
func (r *Registry) Get(name domain.CapabilityName) (domain.Capability, error) {
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrCapabilityNotFound)
	}
	return c, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name domain.CapabilityName) bool {
	_, ok := r.caps[name]
	return ok
}

// Default returns the catch-all capability.
func (r *Registry) Default() domain.Capability {
	return r.caps[r.defaultName]
}

// DefaultName returns the name of the catch-all capability.
func (r *Registry) DefaultName() domain.CapabilityName {
	return r.defaultName
}
