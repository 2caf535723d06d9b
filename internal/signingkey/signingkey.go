// Package signingkey implements the Signing-Key Registry (§4.2): an
// RSA keypair lifecycle state machine with a background rotation
// scheduler, grounded on the API Key Manager's generate/rotate/revoke
// pattern (internal/middleware/auth/keymanager.go) generalized from a
// single Revoked bool to the PENDING/ACTIVE/DEPRECATED/RETIRED enum.
package signingkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wudi/gateway/config"
)

// Status is the lifecycle state of a signing key (§3 SigningKeyRecord).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusActive     Status = "ACTIVE"
	StatusDeprecated Status = "DEPRECATED"
	StatusRetired    Status = "RETIRED"
)

// Record is a signing key and its lifecycle metadata.
type Record struct {
	KeyID      string
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
	Status     Status
	CreatedAt  time.Time
	ActivatedAt  time.Time
	DeprecatedAt time.Time
	RetiredAt    time.Time
}

// PEMPublicKey returns the PKIX-encoded, PEM-wrapped public key, the form
// published in the JWKS-compatible admin endpoint.
func (r *Record) PEMPublicKey() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(r.PublicKey)
	if err != nil {
		return "", fmt.Errorf("signingkey: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// Registry manages the signing-key lifecycle state machine and rotation
// schedule. The zero Registry is not usable; use New.
type Registry struct {
	mu   sync.RWMutex
	keys map[string]*Record

	activeKeyID string

	rotationInterval  time.Duration
	deprecationWindow time.Duration
	retirementWindow  time.Duration
	keyBits           int

	logger *zap.Logger

	lastRefresh time.Time
	cancel      func()
}

// New creates a Registry and mints an initial ACTIVE key.
func New(cfg config.KeyRotationConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		keys:              make(map[string]*Record),
		rotationInterval:  cfg.RotationInterval,
		deprecationWindow: cfg.DeprecationWindow,
		retirementWindow:  cfg.RetirementWindow,
		keyBits:           2048,
		logger:            logger,
	}
	if r.rotationInterval <= 0 {
		r.rotationInterval = 24 * time.Hour
	}
	if r.deprecationWindow <= 0 {
		r.deprecationWindow = 1 * time.Hour
	}
	if r.retirementWindow <= 0 {
		r.retirementWindow = 24 * time.Hour
	}

	if _, err := r.mintActive(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) mintActive() (*Record, error) {
	priv, err := rsa.GenerateKey(rand.Reader, r.keyBits)
	if err != nil {
		return nil, fmt.Errorf("signingkey: generate key: %w", err)
	}
	now := time.Now()
	rec := &Record{
		KeyID:       uuid.NewString(),
		PublicKey:   &priv.PublicKey,
		PrivateKey:  priv,
		Status:      StatusActive,
		CreatedAt:   now,
		ActivatedAt: now,
	}

	r.mu.Lock()
	r.keys[rec.KeyID] = rec
	r.activeKeyID = rec.KeyID
	r.lastRefresh = now
	r.mu.Unlock()

	r.logger.Info("signing key activated", zap.String("key_id", rec.KeyID))
	return rec, nil
}

// ActiveKey returns the key currently used to sign new tokens.
func (r *Registry) ActiveKey() (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.keys[r.activeKeyID]
	return rec, ok
}

// FindAllForVerification returns every key still valid for verifying an
// incoming token's signature: ACTIVE ∪ DEPRECATED (§4.2).
func (r *Registry) FindAllForVerification() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.keys))
	for _, rec := range r.keys {
		if rec.Status == StatusActive || rec.Status == StatusDeprecated {
			out = append(out, rec)
		}
	}
	return out
}

// Lookup returns the record for a given key id, used to verify a token's
// "kid" header against the hot verification-key cache.
func (r *Registry) Lookup(keyID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.keys[keyID]
	if !ok || (rec.Status != StatusActive && rec.Status != StatusDeprecated) {
		return nil, false
	}
	return rec, true
}

// Rotate mints a new ACTIVE key and deprecates the previous one. Called
// by the background scheduler, or directly by an admin operation.
func (r *Registry) Rotate() error {
	r.mu.Lock()
	prevID := r.activeKeyID
	r.mu.Unlock()

	if _, err := r.mintActive(); err != nil {
		return err
	}

	if prevID != "" {
		r.deprecate(prevID)
	}
	return nil
}

func (r *Registry) deprecate(keyID string) {
	r.mu.Lock()
	rec, ok := r.keys[keyID]
	if ok && rec.Status == StatusActive {
		rec.Status = StatusDeprecated
		rec.DeprecatedAt = time.Now()
	}
	r.mu.Unlock()
	if ok {
		r.logger.Info("signing key deprecated", zap.String("key_id", keyID))
	}
}

// ForceDeprecate is the admin override that immediately deprecates a key
// regardless of rotation schedule.
func (r *Registry) ForceDeprecate(keyID string) error {
	r.mu.Lock()
	rec, ok := r.keys[keyID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("signingkey: key %q not found", keyID)
	}
	if rec.Status != StatusActive && rec.Status != StatusDeprecated {
		r.mu.Unlock()
		return fmt.Errorf("signingkey: key %q is %s, cannot deprecate", keyID, rec.Status)
	}
	rec.Status = StatusDeprecated
	if rec.DeprecatedAt.IsZero() {
		rec.DeprecatedAt = time.Now()
	}
	wasActive := r.activeKeyID == keyID
	r.mu.Unlock()

	if wasActive {
		if _, err := r.mintActive(); err != nil {
			return err
		}
	}
	return nil
}

// ForceRetire is the admin override that immediately retires a key,
// removing it from verification eligibility.
func (r *Registry) ForceRetire(keyID string) error {
	r.mu.Lock()
	rec, ok := r.keys[keyID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("signingkey: key %q not found", keyID)
	}
	if rec.Status == StatusActive {
		r.mu.Unlock()
		return fmt.Errorf("signingkey: key %q is active, deprecate it first", keyID)
	}
	rec.Status = StatusRetired
	rec.RetiredAt = time.Now()
	r.mu.Unlock()
	r.logger.Info("signing key retired", zap.String("key_id", keyID))
	return nil
}

// sweep advances DEPRECATED keys past the retirement window into RETIRED;
// keys in any other state are left as they are.
func (r *Registry) sweep() {
	now := time.Now()
	r.mu.Lock()
	var toRetire []string
	for id, rec := range r.keys {
		if rec.Status == StatusDeprecated && now.Sub(rec.DeprecatedAt) > r.retirementWindow {
			toRetire = append(toRetire, id)
		}
	}
	for _, id := range toRetire {
		r.keys[id].Status = StatusRetired
		r.keys[id].RetiredAt = now
	}
	r.lastRefresh = now
	r.mu.Unlock()

	for _, id := range toRetire {
		r.logger.Info("signing key retired by sweep", zap.String("key_id", id))
	}
}

// StartScheduler rotates the active key every rotationInterval and runs the
// retirement sweep every deprecationWindow, until Stop is called.
func (r *Registry) StartScheduler() {
	stop := make(chan struct{})
	r.cancel = sync.OnceFunc(func() { close(stop) })

	go func() {
		ticker := time.NewTicker(r.rotationInterval)
		defer ticker.Stop()
		sweepTicker := time.NewTicker(r.deprecationWindow)
		defer sweepTicker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := r.Rotate(); err != nil {
					r.logger.Error("scheduled rotation failed", zap.Error(err))
				}
			case <-sweepTicker.C:
				r.sweep()
			}
		}
	}()
}

// Stop halts the background scheduler.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// IsReady reports whether the registry has a usable ACTIVE key and has
// minted or swept at least once, for the gateway's health endpoint. The age
// of the last refresh is not checked.
func (r *Registry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[r.activeKeyID]
	return ok && !r.lastRefresh.IsZero()
}

// LastRefreshTime returns the last time a key was minted or swept.
func (r *Registry) LastRefreshTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}

// Snapshot returns every known key record, for the admin listing endpoint.
func (r *Registry) Snapshot() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.keys))
	for _, rec := range r.keys {
		out = append(out, rec)
	}
	return out
}
