package tokenrevoke

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/gateway/config"
	"github.com/wudi/gateway/internal/errors"
)

// TokenChecker implements the Revocation Engine (§4.5): a bloom-filter
// pre-check in front of a short-TTL cache in front of the authoritative
// repository, with pub/sub fan-out so revocations issued on one instance
// are observed by every other instance's bloom filter and cache. It also
// tracks per-subject "revoke everything issued before T" cutoffs.
type TokenChecker struct {
	bloom      *revocationBloom
	cache      TokenStore // short-TTL layer, always in-memory
	repository TokenStore // authoritative; memory or Redis depending on config
	fanout     *revocationFanout
	defaultTTL time.Duration
	// checkThreshold: tokens whose remaining lifetime is below this skip
	// the revocation check entirely (§4.5) — they expire before a stolen
	// credential could be replayed in any meaningful window.
	checkThreshold time.Duration
	logger         *zap.Logger

	userMu    sync.RWMutex
	userBefore map[string]time.Time // subject -> revoke tokens issued before this time

	checked atomic.Int64
	revoked atomic.Int64
	skipped atomic.Int64
}

// New creates a TokenChecker. redisClient nil selects the in-memory
// repository; otherwise the Redis-backed repository and pub/sub fan-out
// are used (§4.1 storage-port selection, §4.5 fan-out).
func New(cfg config.RevocationConfig, redisClient *redis.Client, logger *zap.Logger) (*TokenChecker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	channel := cfg.PubSubChannel
	if channel == "" {
		channel = "gw:revocation"
	}

	bloom, err := newRevocationBloom(cfg.BloomExpectedItems, cfg.BloomFalsePositive)
	if err != nil {
		return nil, fmt.Errorf("tokenrevoke: bloom init: %w", err)
	}

	var repository TokenStore
	if redisClient != nil {
		repository = NewRedisStore(redisClient)
	} else {
		repository = NewMemoryStore(ttl / 2)
	}

	tc := &TokenChecker{
		bloom:          bloom,
		cache:          NewMemoryStore(cacheTTL),
		repository:     repository,
		defaultTTL:     ttl,
		checkThreshold: cfg.CheckThreshold,
		logger:         logger,
		userBefore:     make(map[string]time.Time),
	}

	if redisClient != nil {
		tc.fanout = newRevocationFanout(redisClient, channel, logger)
		go tc.fanout.subscribe(context.Background(), tc)
	}

	return tc, nil
}

// Check returns true if the token is allowed (not revoked), false if revoked.
func (tc *TokenChecker) Check(r *http.Request) bool {
	token := extractBearerToken(r)
	if token == "" {
		return true // no token to check
	}
	return tc.checkToken(r.Context(), token)
}

func (tc *TokenChecker) checkToken(ctx context.Context, token string) bool {
	tc.checked.Add(1)

	if tc.checkThreshold > 0 {
		if ttl := tokenExpTTL(token); ttl > 0 && ttl < tc.checkThreshold {
			tc.skipped.Add(1)
			return true
		}
	}

	key := tokenKey(token)

	// Bloom pre-check: a negative answer is definitive.
	if !tc.bloom.MaybeContains(key) && !tc.isUserRevoked(token) {
		return true
	}

	if revoked, _ := tc.cache.Contains(ctx, key); revoked {
		tc.revoked.Add(1)
		return false
	}

	revoked, _ := tc.repository.Contains(ctx, key)
	if revoked {
		tc.revoked.Add(1)
		_ = tc.cache.Add(ctx, key, tc.defaultTTL)
		return false
	}

	if tc.isUserRevoked(token) {
		tc.revoked.Add(1)
		return false
	}

	return true
}

// isUserRevoked reports whether the token's subject has a "revoke before"
// cutoff that the token's iat claim falls under.
func (tc *TokenChecker) isUserRevoked(token string) bool {
	sub, iat, ok := subjectAndIssuedAt(token)
	if !ok {
		return false
	}
	tc.userMu.RLock()
	cutoff, exists := tc.userBefore[sub]
	tc.userMu.RUnlock()
	if !exists {
		return false
	}
	return iat.Before(cutoff)
}

// Revoke adds a token or JTI to the revocation list, across bloom, cache,
// repository, and (if configured) pub/sub fan-out.
func (tc *TokenChecker) Revoke(tokenOrJTI string, ttl time.Duration) error {
	if ttl <= 0 || ttl > tc.defaultTTL {
		ttl = tc.defaultTTL
	}

	var key string
	if strings.Count(tokenOrJTI, ".") == 2 {
		key = tokenKey(tokenOrJTI)
		if expTTL := tokenExpTTL(tokenOrJTI); expTTL > 0 && expTTL < ttl {
			ttl = expTTL
		}
	} else {
		key = tokenOrJTI
	}

	if err := tc.repository.Add(context.Background(), key, ttl); err != nil {
		return err
	}
	tc.applyLocalRevocation(key, ttl)

	if tc.fanout != nil {
		tc.fanout.publishJTI(key, time.Now().Add(ttl))
	}
	return nil
}

// RevokeUser revokes every token issued before now for the given subject,
// until the longest-lived token type would have expired anyway.
func (tc *TokenChecker) RevokeUser(subject string) {
	now := time.Now()
	tc.applyLocalUserRevocation(subject, now, now.Add(tc.defaultTTL))
	if tc.fanout != nil {
		tc.fanout.publishUser(subject, now, now.Add(tc.defaultTTL))
	}
}

// applyLocalRevocation updates the bloom filter and cache without touching
// the repository; used both by Revoke and by incoming fan-out messages.
func (tc *TokenChecker) applyLocalRevocation(key string, ttl time.Duration) {
	tc.bloom.Add(key)
	_ = tc.cache.Add(context.Background(), key, ttl)
}

func (tc *TokenChecker) applyLocalUserRevocation(subject string, issuedBefore, expiresAt time.Time) {
	tc.userMu.Lock()
	tc.userBefore[subject] = issuedBefore
	tc.userMu.Unlock()

	// Schedule forgetting the cutoff once every token window it could affect
	// has expired; avoids the map growing unbounded.
	if d := time.Until(expiresAt); d > 0 {
		time.AfterFunc(d, func() {
			tc.userMu.Lock()
			if tc.userBefore[subject] == issuedBefore {
				delete(tc.userBefore, subject)
			}
			tc.userMu.Unlock()
		})
	}
}

// Unrevoke removes a token or JTI from the revocation list.
func (tc *TokenChecker) Unrevoke(tokenOrJTI string) error {
	var key string
	if strings.Count(tokenOrJTI, ".") == 2 {
		key = tokenKey(tokenOrJTI)
	} else {
		key = tokenOrJTI
	}
	_ = tc.cache.Remove(context.Background(), key)
	return tc.repository.Remove(context.Background(), key)
}

// Close closes the underlying stores.
func (tc *TokenChecker) Close() {
	tc.cache.Close()
	tc.repository.Close()
}

// Stats returns token revocation statistics.
func (tc *TokenChecker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"checked":         tc.checked.Load(),
		"revoked":         tc.revoked.Load(),
		"skipped":         tc.skipped.Load(),
		"repository_size": tc.repository.Size(),
	}
}

// extractBearerToken extracts the Bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return ""
}

func decodeClaims(token string) (map[string]interface{}, bool) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) < 2 {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, false
	}
	var claims map[string]interface{}
	if json.Unmarshal(payload, &claims) != nil {
		return nil, false
	}
	return claims, true
}

func subjectAndIssuedAt(token string) (string, time.Time, bool) {
	claims, ok := decodeClaims(token)
	if !ok {
		return "", time.Time{}, false
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", time.Time{}, false
	}
	iatRaw, ok := claims["iat"]
	if !ok {
		return sub, time.Time{}, false
	}
	iatFloat, ok := iatRaw.(float64)
	if !ok {
		return sub, time.Time{}, false
	}
	return sub, time.Unix(int64(iatFloat), 0), true
}

// tokenKey computes the revocation key for a JWT token.
// If the token has a "jti" claim, that is used. Otherwise, the first 32 chars
// of the SHA256 hex digest of the full token are used.
func tokenKey(token string) string {
	if claims, ok := decodeClaims(token); ok {
		if jti, ok := claims["jti"]; ok {
			if s, ok := jti.(string); ok && s != "" {
				return s
			}
		}
	}
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}

// tokenExpTTL computes the remaining TTL from the token's exp claim.
// Returns 0 if exp is missing or in the past.
func tokenExpTTL(token string) time.Duration {
	claims, ok := decodeClaims(token)
	if !ok {
		return 0
	}
	exp, ok := claims["exp"]
	if !ok {
		return 0
	}
	expFloat, ok := exp.(float64)
	if !ok {
		return 0
	}
	ttl := time.Until(time.Unix(int64(expFloat), 0))
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// Middleware returns a middleware that rejects requests with revoked JWT tokens.
func (tc *TokenChecker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tc.Check(r) {
				errors.ErrUnauthorized.WithDetails("token has been revoked").WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
