// Package registry implements the Service Registry (§4.8): versioned CRUD
// over service registrations with optimistic concurrency, a permission
// policy per service, and a cache-through read path.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wudi/gateway/internal/router"
)

// ServiceRegistration is the upstream target entity (§3).
type ServiceRegistration struct {
	ServiceID        string                 `json:"service_id"`
	BaseURL          string                 `json:"base_url"`
	Endpoints        []router.EndpointConfig `json:"endpoints"`
	PermissionPolicy PermissionPolicy        `json:"permission_policy,omitempty"`
	Version          int64                  `json:"version"`
	Owner            string                 `json:"owner,omitempty"`
}

// PermissionPolicy maps an operation-kind (e.g. "read", "write", "admin") to
// the set of permissions allowed to perform it. Absent kinds are admin-only
// (closed-world, §3 invariant).
type PermissionPolicy map[string]map[string]struct{}

// Allows reports whether perm is permitted for the given operation kind.
func (p PermissionPolicy) Allows(kind, perm string) bool {
	if p == nil {
		return false
	}
	set, ok := p[kind]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// Permission names referenced by §4.8's authorization checks.
const (
	PermServiceConfigCreate = "service_config:create"
	PermServiceConfigUpdate = "service_config:update"
	PermServiceConfigDelete = "service_config:delete"
	PermServiceConfigRead   = "service_config:read"
)

// Errors returned by the repository layer; the Service wraps these into the
// status-code-mapped Failure result (§4.8).
var (
	ErrNotFound        = errors.New("registry: service registration not found")
	ErrVersionConflict = errors.New("registry: version mismatch")
	ErrDuplicateID     = errors.New("registry: duplicate service id")
	ErrValidation      = errors.New("registry: validation failed")
)

// VersionConflictError carries the stored and attempted versions so the
// admin HTTP layer can render §8 scenario 2's "Version mismatch: expected
// X, got Y" detail: Expected is the actual current stored version, Got is
// the version the caller believed was current (the one their write was
// conditioned on). It unwraps to ErrVersionConflict so callers that only
// check errors.Is(err, ErrVersionConflict) keep working unchanged.
type VersionConflictError struct {
	Expected int64 // the actual current stored version
	Got      int64 // the version the caller's write was conditioned on
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("registry: version mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// Repository is the storage port for service registrations (§4.1, §4.8).
type Repository interface {
	Create(ctx context.Context, reg *ServiceRegistration) error
	Get(ctx context.Context, serviceID string) (*ServiceRegistration, error)
	// Update performs a compare-and-swap: it succeeds only if the stored
	// version equals reg.Version-1, otherwise returns ErrVersionConflict.
	Update(ctx context.Context, reg *ServiceRegistration) error
	Delete(ctx context.Context, serviceID string) error
	List(ctx context.Context) ([]*ServiceRegistration, error)
	Close() error
}

// Result is the outcome of a registry mutation: either a registration or a
// status-code-mapped failure reason (§4.8: 403/404/409/400).
type Result struct {
	Registration *ServiceRegistration
	StatusCode   int
	Reason       string
}

func success(reg *ServiceRegistration) Result { return Result{Registration: reg} }

func failure(status int, reason string) Result {
	return Result{StatusCode: status, Reason: reason}
}

func (r Result) Ok() bool { return r.StatusCode == 0 }

// Service is the cache-through front for the Service Registry (§4.8). Reads
// consult the LRU cache first; writes invalidate the entry eagerly.
type Service struct {
	repo  Repository
	cache *lru.Cache[string, *ServiceRegistration]
	mu    sync.Mutex // serializes read-then-fill on cache miss
}

// NewService builds a cache-through Service Registry over repo with an LRU
// cache of the given size.
func NewService(repo Repository, cacheSize int) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	c, err := lru.New[string, *ServiceRegistration](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("registry: cache init: %w", err)
	}
	return &Service{repo: repo, cache: c}, nil
}

func validate(reg *ServiceRegistration) error {
	if reg.ServiceID == "" {
		return fmt.Errorf("%w: service_id is required", ErrValidation)
	}
	if reg.BaseURL == "" {
		return fmt.Errorf("%w: base_url is required", ErrValidation)
	}
	return nil
}

// Register upserts a service registration. The caller must hold
// SERVICE_CONFIG_CREATE or SERVICE_CONFIG_UPDATE.
func (s *Service) Register(ctx context.Context, reg *ServiceRegistration, callerPermissions map[string]struct{}) Result {
	if _, ok := callerPermissions[PermServiceConfigCreate]; !ok {
		if _, ok := callerPermissions[PermServiceConfigUpdate]; !ok {
			return failure(403, "caller lacks service_config:create/update")
		}
	}
	if err := validate(reg); err != nil {
		return failure(400, err.Error())
	}

	existing, err := s.repo.Get(ctx, reg.ServiceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return failure(400, err.Error())
	}

	if existing == nil {
		reg.Version = 1
		if err := s.repo.Create(ctx, reg); err != nil {
			if errors.Is(err, ErrDuplicateID) {
				return failure(409, "duplicate service id")
			}
			return failure(400, err.Error())
		}
	} else {
		reg.Version = existing.Version + 1
		if err := s.repo.Update(ctx, reg); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return failure(409, versionConflictDetail(err))
			}
			return failure(400, err.Error())
		}
	}

	s.cache.Remove(reg.ServiceID)
	return success(reg)
}

// UnregisterAuthorized removes a service registration. The caller must hold
// SERVICE_CONFIG_DELETE.
func (s *Service) UnregisterAuthorized(ctx context.Context, serviceID string, callerPermissions map[string]struct{}) Result {
	if _, ok := callerPermissions[PermServiceConfigDelete]; !ok {
		return failure(403, "caller lacks service_config:delete")
	}
	if err := s.repo.Delete(ctx, serviceID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return failure(404, "service not found")
		}
		return failure(400, err.Error())
	}
	s.cache.Remove(serviceID)
	return success(nil)
}

// GetServiceAuthorized returns a registration. The caller must hold
// SERVICE_CONFIG_READ.
func (s *Service) GetServiceAuthorized(ctx context.Context, serviceID string, callerPermissions map[string]struct{}) Result {
	if _, ok := callerPermissions[PermServiceConfigRead]; !ok {
		return failure(403, "caller lacks service_config:read")
	}
	reg, ok := s.GetService(ctx, serviceID)
	if !ok {
		return failure(404, "service not found")
	}
	return success(reg)
}

// Update performs a conditional write: it succeeds only if the stored
// version equals reg.Version-1.
func (s *Service) Update(ctx context.Context, reg *ServiceRegistration) Result {
	if err := validate(reg); err != nil {
		return failure(400, err.Error())
	}
	if err := s.repo.Update(ctx, reg); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return failure(409, versionConflictDetail(err))
		}
		if errors.Is(err, ErrNotFound) {
			return failure(404, "service not found")
		}
		return failure(400, err.Error())
	}
	s.cache.Remove(reg.ServiceID)
	return success(reg)
}

// versionConflictDetail renders §8 scenario 2's detail message, falling
// back to the bare "version mismatch" when the repository didn't return a
// *VersionConflictError (e.g. a provider that only reports the sentinel).
func versionConflictDetail(err error) string {
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		return fmt.Sprintf("Version mismatch: expected %d, got %d", conflict.Expected, conflict.Got)
	}
	return "version mismatch"
}

// GetService is the unauthenticated cache-through read used by the gateway
// pipeline's service-resolution stage (§4.10 stage 3).
func (s *Service) GetService(ctx context.Context, serviceID string) (*ServiceRegistration, bool) {
	if reg, ok := s.cache.Get(serviceID); ok {
		return reg, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the lock; another goroutine may have just filled it.
	if reg, ok := s.cache.Get(serviceID); ok {
		return reg, true
	}

	reg, err := s.repo.Get(ctx, serviceID)
	if err != nil || reg == nil {
		return nil, false
	}
	s.cache.Add(serviceID, reg)
	return reg, true
}

// GetAllServices lists every registration (bypasses the cache; used by
// admin listing operations, not the hot path).
func (s *Service) GetAllServices(ctx context.Context) ([]*ServiceRegistration, error) {
	return s.repo.List(ctx)
}

// Close releases the underlying repository's resources.
func (s *Service) Close() error { return s.repo.Close() }

