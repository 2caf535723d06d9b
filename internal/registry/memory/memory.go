// Package memory provides the in-memory ServiceRegistrationRepository
// (§4.1 storage-port provider priority 0).
package memory

import (
	"context"
	"sync"

	"github.com/wudi/gateway/internal/registry"
	"github.com/wudi/gateway/internal/router"
)

// Repository is an in-memory, mutex-guarded ServiceRegistrationRepository.
type Repository struct {
	mu       sync.RWMutex
	services map[string]*registry.ServiceRegistration
}

// New creates an empty in-memory repository.
func New() *Repository {
	return &Repository{services: make(map[string]*registry.ServiceRegistration)}
}

func clone(reg *registry.ServiceRegistration) *registry.ServiceRegistration {
	cp := *reg
	cp.Endpoints = append([]router.EndpointConfig(nil), reg.Endpoints...)
	return &cp
}

// Create stores a brand new registration. Returns ErrDuplicateID if the
// service id is already present.
func (r *Repository) Create(ctx context.Context, reg *registry.ServiceRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[reg.ServiceID]; exists {
		return registry.ErrDuplicateID
	}
	r.services[reg.ServiceID] = clone(reg)
	return nil
}

// Get returns the stored registration, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, serviceID string) (*registry.ServiceRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.services[serviceID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return clone(reg), nil
}

// Update performs the version-based compare-and-swap (§4.8).
func (r *Repository) Update(ctx context.Context, reg *registry.ServiceRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.services[reg.ServiceID]
	if !ok {
		return registry.ErrNotFound
	}
	if stored.Version != reg.Version-1 {
		return &registry.VersionConflictError{Expected: stored.Version, Got: reg.Version - 1}
	}
	r.services[reg.ServiceID] = clone(reg)
	return nil
}

// Delete removes a registration.
func (r *Repository) Delete(ctx context.Context, serviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[serviceID]; !ok {
		return registry.ErrNotFound
	}
	delete(r.services, serviceID)
	return nil
}

// List returns every stored registration.
func (r *Repository) List(ctx context.Context) ([]*registry.ServiceRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*registry.ServiceRegistration, 0, len(r.services))
	for _, reg := range r.services {
		out = append(out, clone(reg))
	}
	return out, nil
}

// Close is a no-op for the in-memory repository.
func (r *Repository) Close() error { return nil }
