// Package redisregistry provides the Redis-backed ServiceRegistrationRepository
// (§4.1 storage-port provider priority 10, preempting the in-memory default).
package redisregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/gateway/internal/registry"
)

// Repository stores service registrations as JSON documents in Redis, one
// key per service id plus a set tracking all known ids for List.
type Repository struct {
	client    *redis.Client
	keyPrefix string
	indexKey  string
}

// New creates a Redis-backed repository using client, namespacing keys
// under keyPrefix (default "gw:registry:").
func New(client *redis.Client, keyPrefix string) *Repository {
	if keyPrefix == "" {
		keyPrefix = "gw:registry:"
	}
	return &Repository{client: client, keyPrefix: keyPrefix, indexKey: keyPrefix + "__index__"}
}

func (r *Repository) key(serviceID string) string {
	return r.keyPrefix + serviceID
}

func (r *Repository) Create(ctx context.Context, reg *registry.ServiceRegistration) error {
	existing, err := r.client.Exists(ctx, r.key(reg.ServiceID)).Result()
	if err != nil {
		return fmt.Errorf("redisregistry: create: %w", err)
	}
	if existing > 0 {
		return registry.ErrDuplicateID
	}
	return r.write(ctx, reg)
}

func (r *Repository) Get(ctx context.Context, serviceID string) (*registry.ServiceRegistration, error) {
	raw, err := r.client.Get(ctx, r.key(serviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisregistry: get: %w", err)
	}
	var reg registry.ServiceRegistration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("redisregistry: decode: %w", err)
	}
	return &reg, nil
}

func (r *Repository) Update(ctx context.Context, reg *registry.ServiceRegistration) error {
	stored, err := r.Get(ctx, reg.ServiceID)
	if err != nil {
		return err
	}
	if stored.Version != reg.Version-1 {
		return &registry.VersionConflictError{Expected: stored.Version, Got: reg.Version - 1}
	}
	return r.write(ctx, reg)
}

func (r *Repository) write(ctx context.Context, reg *registry.ServiceRegistration) error {
	raw, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("redisregistry: encode: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(reg.ServiceID), raw, 0)
	pipe.SAdd(ctx, r.indexKey, reg.ServiceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisregistry: write: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, serviceID string) error {
	n, err := r.client.Del(ctx, r.key(serviceID)).Result()
	if err != nil {
		return fmt.Errorf("redisregistry: delete: %w", err)
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	r.client.SRem(ctx, r.indexKey, serviceID)
	return nil
}

func (r *Repository) List(ctx context.Context) ([]*registry.ServiceRegistration, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redisregistry: list index: %w", err)
	}
	out := make([]*registry.ServiceRegistration, 0, len(ids))
	for _, id := range ids {
		reg, err := r.Get(ctx, id)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, nil
}

func (r *Repository) Close() error { return nil }
