package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wudi/gateway/config"
	"github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/middleware"
	"github.com/wudi/gateway/variables"
)

// APIKeyAuth resolves identities from the X-API-Key header against a
// KeyStore of salted key hashes (§3 ApiKey entity, §4.1 storage port).
type APIKeyAuth struct {
	header    string
	keyLength int
	keyPrefix string
	store     KeyStore
}

// NewAPIKeyAuth creates a new API key authenticator backed by store.
func NewAPIKeyAuth(cfg config.APIKeyConfig, store KeyStore) *APIKeyAuth {
	length := cfg.KeyLength
	if length <= 0 {
		length = 32
	}
	return &APIKeyAuth{
		header:    "X-API-Key",
		keyLength: length,
		keyPrefix: cfg.KeyPrefix,
		store:     store,
	}
}

// hashKey derives the lookup hash for a raw API key. Only the hash is ever
// persisted; the raw key is returned to the caller exactly once, at creation.
func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticate verifies the API key and returns the identity.
func (a *APIKeyAuth) Authenticate(r *http.Request) (*variables.Identity, error) {
	apiKey := a.extractKey(r)
	if apiKey == "" {
		return nil, errors.ErrUnauthorized.WithDetails("API key not provided")
	}

	managed, ok := a.store.Lookup(hashKey(apiKey))
	if !ok {
		return nil, errors.ErrUnauthorized.WithDetails("Invalid API key")
	}
	if managed.Revoked {
		return nil, errors.ErrUnauthorized.WithDetails("API key has been revoked")
	}
	if !managed.ExpiresAt.IsZero() && time.Now().After(managed.ExpiresAt) {
		return nil, errors.ErrUnauthorized.WithDetails("API key has expired")
	}

	perms := make(map[string]struct{}, len(managed.Roles))
	for _, p := range managed.Roles {
		perms[p] = struct{}{}
	}

	claims := map[string]interface{}{"client_id": managed.ClientID}
	if len(managed.Roles) > 0 {
		claims["permissions"] = managed.Roles
	}

	return &variables.Identity{
		ClientID:    managed.ClientID,
		AuthType:    "api_key",
		Claims:      claims,
		Subject:     managed.ClientID,
		Permissions: perms,
		ExpiresAt:   managed.ExpiresAt,
	}, nil
}

// extractKey extracts the API key from the request header.
func (a *APIKeyAuth) extractKey(r *http.Request) string {
	return r.Header.Get(a.header)
}

// IsEnabled returns true if any API keys are registered.
func (a *APIKeyAuth) IsEnabled() bool {
	return a.store.Size() > 0
}

// GenerateKey mints a new raw API key, stores its hash, and returns the raw
// value. The raw value is never retrievable again.
func (a *APIKeyAuth) GenerateKey(clientID, name string, permissions []string, ttl time.Duration) (string, error) {
	buf := make([]byte, a.keyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("apikey: generate: %w", err)
	}
	raw := a.keyPrefix + hex.EncodeToString(buf)

	managed := &ManagedKey{
		KeyHash:   hashKey(raw),
		KeyPrefix: a.keyPrefix,
		ClientID:  clientID,
		Name:      name,
		Roles:     permissions,
		CreatedAt: time.Now(),
	}
	if ttl > 0 {
		managed.ExpiresAt = time.Now().Add(ttl)
	}
	if err := a.store.Store(managed.KeyHash, managed); err != nil {
		return "", err
	}
	return raw, nil
}

// RevokeKey marks the key identified by its raw value as revoked.
func (a *APIKeyAuth) RevokeKey(raw string) error {
	hash := hashKey(raw)
	managed, ok := a.store.Lookup(hash)
	if !ok {
		return errors.ErrNotFound.WithDetails("API key not found")
	}
	managed.Revoked = true
	managed.RevokedAt = time.Now()
	return a.store.Store(hash, managed)
}

// ListKeys returns all keys with raw values masked (for admin API).
func (a *APIKeyAuth) ListKeys() map[string]*ManagedKey {
	result := a.store.List()
	masked := make(map[string]*ManagedKey, len(result))
	for hash, v := range result {
		displayHash := hash
		if len(displayHash) > 8 {
			displayHash = displayHash[:4] + "****" + displayHash[len(displayHash)-4:]
		}
		masked[displayHash] = v
	}
	return masked
}

// Middleware creates a middleware for API key authentication.
func (a *APIKeyAuth) Middleware(required bool) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.Authenticate(r)

			if err != nil {
				if required {
					gatewayErr := err.(*errors.ProblemDetails)
					w.Header().Set("WWW-Authenticate", "API-Key")
					gatewayErr.WriteJSON(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			varCtx := variables.GetFromRequest(r)
			varCtx.Identity = identity
			ctx := context.WithValue(r.Context(), variables.RequestContextKey{}, varCtx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminKeyEntry is the JSON request body for admin API key creation.
type AdminKeyEntry struct {
	ClientID    string   `json:"client_id"`
	Name        string   `json:"name,omitempty"`
	TTLSeconds  int64    `json:"ttl_seconds,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// HandleAdminKeys handles admin API requests for key management.
func (a *APIKeyAuth) HandleAdminKeys(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(a.ListKeys())

	case http.MethodPost:
		var entry AdminKeyEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			errors.ErrBadRequest.WithDetails("Invalid JSON body").WriteJSON(w)
			return
		}
		if entry.ClientID == "" {
			errors.ErrBadRequest.WithDetails("client_id is required").WriteJSON(w)
			return
		}

		var ttl time.Duration
		if entry.TTLSeconds > 0 {
			ttl = time.Duration(entry.TTLSeconds) * time.Second
		}

		raw, err := a.GenerateKey(entry.ClientID, entry.Name, entry.Permissions, ttl)
		if err != nil {
			errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"key": raw})

	case http.MethodDelete:
		var entry struct {
			Key string `json:"key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil || entry.Key == "" {
			errors.ErrBadRequest.WithDetails("key is required").WriteJSON(w)
			return
		}
		if err := a.RevokeKey(strings.TrimSpace(entry.Key)); err != nil {
			if pd, ok := err.(*errors.ProblemDetails); ok {
				pd.WriteJSON(w)
				return
			}
			errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "revoked"})

	default:
		errors.ErrMethodNotAllowed.WriteJSON(w)
	}
}

