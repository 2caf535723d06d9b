// Package oidc implements the JWKS Cache & OIDC Validator (§4.3): a
// per-issuer cached JWK set with single-flight refresh-on-miss, and a
// bearer-token validator returning a closed ValidationResult sum.
package oidc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/gateway/config"
)

// Kind discriminates ValidationResult's three cases.
type Kind int

const (
	KindNoToken Kind = iota
	KindValid
	KindInvalid
)

// ValidationResult is the closed sum returned by Validate: exactly one of
// NoToken, Valid, or Invalid applies, selected by Kind.
type ValidationResult struct {
	Kind Kind

	// Valid payload.
	Subject   string
	Issuer    string
	ExpiresAt time.Time
	Claims    map[string]any

	// Invalid payload.
	Reason string
}

func noToken() ValidationResult { return ValidationResult{Kind: KindNoToken} }

func invalid(reason string) ValidationResult {
	return ValidationResult{Kind: KindInvalid, Reason: reason}
}

func valid(subject, issuer string, expiresAt time.Time, claims map[string]any) ValidationResult {
	return ValidationResult{Kind: KindValid, Subject: subject, Issuer: issuer, ExpiresAt: expiresAt, Claims: claims}
}

// ProviderConfig is the per-issuer validation configuration (§4.3): the
// issuer string must match the token's iss claim, Audiences (when
// non-empty) must intersect aud, and ClaimsMapping copies external claim
// values under internal names after a successful verify.
type ProviderConfig = config.JWKSIssuerConfig

// Validator caches JWK sets per jwksUri with TTL and coalesces concurrent
// refreshes for the same uri behind a single flight.
type Validator struct {
	mu        sync.RWMutex
	caches    map[string]*jwk.Cache // jwksUri -> cache
	providers map[string]ProviderConfig // issuer -> config
	group     singleflight.Group
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// New builds a Validator from the gateway's JWKS configuration (§4.3),
// registering one jwk.Cache per configured issuer.
func New(cfg config.JWKSConfig, logger *zap.Logger) (*Validator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	v := &Validator{
		caches:    make(map[string]*jwk.Cache),
		providers: make(map[string]ProviderConfig),
		cacheTTL:  ttl,
		logger:    logger,
	}

	ctx := context.Background()
	for _, issuerCfg := range cfg.Issuers {
		refresh := issuerCfg.RefreshInterval
		if refresh <= 0 {
			refresh = ttl
		}
		cache := jwk.NewCache(ctx)
		if err := cache.Register(issuerCfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
			return nil, fmt.Errorf("oidc: register jwks %s: %w", issuerCfg.JWKSURL, err)
		}
		if _, err := cache.Refresh(ctx, issuerCfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("oidc: initial fetch %s: %w", issuerCfg.JWKSURL, err)
		}
		v.caches[issuerCfg.JWKSURL] = cache
		v.providers[issuerCfg.Issuer] = issuerCfg
		logger.Info("registered jwks issuer", zap.String("issuer", issuerCfg.Issuer), zap.String("jwks_url", issuerCfg.JWKSURL))
	}

	return v, nil
}

// getKey resolves kid within uri's key set, refreshing once (coalesced
// across concurrent callers via singleflight) on a miss before giving up.
func (v *Validator) getKey(ctx context.Context, uri, kid string) (jwk.Key, error) {
	v.mu.RLock()
	cache, ok := v.caches[uri]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("oidc: unknown jwks uri %q", uri)
	}

	lookup := func() (jwk.Key, error) {
		set, err := cache.Get(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("oidc: fetch jwks: %w", err)
		}
		key, found := set.LookupKeyID(kid)
		if !found {
			return nil, nil
		}
		return key, nil
	}

	key, err := lookup()
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}

	// Miss: refresh once, coalescing concurrent refreshes for this uri.
	_, err, _ = v.group.Do(uri, func() (any, error) {
		_, refreshErr := cache.Refresh(ctx, uri)
		return nil, refreshErr
	})
	if err != nil {
		return nil, fmt.Errorf("oidc: refresh jwks: %w", err)
	}

	key, err = lookup()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("signing key not found in JWKS")
	}
	return key, nil
}

// Validate implements §4.3's validate(token, providerConfig): parses the
// JWS, resolves the signing key by kid from the issuer's JWKS, and checks
// iss/aud/exp/sub before applying claims mapping.
func (v *Validator) Validate(ctx context.Context, rawToken string) ValidationResult {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return noToken()
	}

	var claims jwt.MapClaims
	var matchedProvider ProviderConfig
	var matchedIssuer string

	parsed, err := jwt.ParseWithClaims(rawToken, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		unverified := token.Claims.(jwt.MapClaims)
		iss, _ := unverified["iss"].(string)
		provider, ok := v.providers[iss]
		if !ok {
			return nil, fmt.Errorf("unknown issuer %q", iss)
		}
		matchedProvider = provider
		matchedIssuer = iss

		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token missing kid")
		}
		key, keyErr := v.getKey(ctx, provider.JWKSURL, kid)
		if keyErr != nil {
			return nil, keyErr
		}
		var rawKey any
		if rawErr := key.Raw(&rawKey); rawErr != nil {
			return nil, rawErr
		}
		return rawKey, nil
	})

	if err != nil {
		return invalid(classifyError(err))
	}
	if !parsed.Valid {
		return invalid("Invalid token signature")
	}
	claims = parsed.Claims.(jwt.MapClaims)

	if matchedIssuer == "" {
		return invalid("Invalid token issuer")
	}

	if len(matchedProvider.Audiences) > 0 {
		if !audienceIntersects(claims, matchedProvider.Audiences) {
			return invalid("Invalid token audience")
		}
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return invalid("Token has expired")
	}
	expiresAt := time.Unix(int64(expFloat), 0)
	if !expiresAt.After(time.Now()) {
		return invalid("Token has expired")
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return invalid("malformed token")
	}

	result := make(map[string]any, len(claims))
	for k, val := range claims {
		result[k] = val
	}
	for external, internal := range matchedProvider.ClaimsMapping {
		if val, ok := claims[external]; ok {
			result[internal] = val
		}
	}

	return valid(subject, matchedIssuer, expiresAt, result)
}

func audienceIntersects(claims jwt.MapClaims, allowed []string) bool {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}
	switch aud := claims["aud"].(type) {
	case string:
		_, ok := allowedSet[aud]
		return ok
	case []any:
		for _, a := range aud {
			if s, ok := a.(string); ok {
				if _, found := allowedSet[s]; found {
					return true
				}
			}
		}
	}
	return false
}

func classifyError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "token is expired"):
		return "Token has expired"
	case strings.Contains(msg, "unknown issuer"):
		return "Invalid token issuer"
	case strings.Contains(msg, "signing key not found"):
		return "Signing key not found in JWKS"
	case strings.Contains(msg, "signature is invalid"):
		return "Invalid token signature"
	default:
		return msg
	}
}

// Close releases per-issuer JWKS caches. jwk.Cache has no explicit close;
// each was registered against context.Background and stops with the
// process, consistent with the teacher's JWKSProvider.Close no-op.
func (v *Validator) Close() {}
