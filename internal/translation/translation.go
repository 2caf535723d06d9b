// Package translation implements Token Translation (§4.4): versioned
// claim-mapping rules that turn external JWT claims into internal
// roles/permissions/attributes, with three selectable providers.
package translation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wudi/gateway/config"
)

// SourceType selects how a claim's raw value is split into a list.
type SourceType int

const (
	SourceArray SourceType = iota
	SourceString
	SourceSpaceDelimited
	SourceCommaDelimited
)

// Source addresses one claim (by dot-path) and how to split its value.
type Source struct {
	Name  string
	Claim string
	Type  SourceType
}

// TransformOp is one ordered operation applied to every raw value pulled
// from a Source before mapping.
type TransformOp struct {
	Op          string // "strip-prefix", "replace", "lowercase", "uppercase", "regex"
	Value       string // strip-prefix argument
	From, To    string // replace arguments
	Pattern     string // regex pattern
	Replacement string // regex replacement

	compiled *regexp.Regexp
}

// Mappings holds role->permission expansion and raw->permission direct maps.
type Mappings struct {
	RoleToPermissions map[string][]string
	DirectPermissions map[string]string
}

// Defaults controls behavior for values that don't match any mapping.
type Defaults struct {
	DenyIfNoMatch  bool
	IncludeUnmapped bool
}

// RuleSet is one version of the Token Translation configuration (§3 "a
// version carries..."). Versions are identified by VersionID; only one
// version is active at a time within a Provider.
type RuleSet struct {
	VersionID  string
	Sources    []Source
	Transforms map[string][]TransformOp // source name -> ordered ops
	Mappings   Mappings
	Defaults   Defaults
}

// Result is the outcome of a translation: the expanded role/permission
// sets plus any passthrough attributes.
type Result struct {
	Roles       map[string]struct{}
	Permissions map[string]struct{}
	Attributes  map[string]string
}

func newResult() Result {
	return Result{
		Roles:       make(map[string]struct{}),
		Permissions: make(map[string]struct{}),
		Attributes:  make(map[string]string),
	}
}

// Provider translates external claims into a Result under one RuleSet.
type Provider interface {
	Translate(ctx context.Context, issuer, subject string, claims map[string]any) (Result, error)
	Priority() int
}

// apply runs rule.Translate logic shared by the default and config
// providers: pull each Source's raw values from claims, run its
// transforms, then map through Mappings.
func apply(rule *RuleSet, claims map[string]any) (Result, error) {
	result := newResult()

	for _, src := range rule.Sources {
		raw := lookupDotPath(claims, src.Claim)
		values := splitSource(raw, src.Type)

		ops := rule.Transforms[src.Name]
		for i := range values {
			for _, op := range ops {
				values[i] = applyOp(op, values[i])
			}
		}

		for _, v := range values {
			if v == "" {
				continue
			}
			if perm, ok := rule.Mappings.DirectPermissions[v]; ok {
				result.Permissions[perm] = struct{}{}
				continue
			}
			if perms, ok := rule.Mappings.RoleToPermissions[v]; ok {
				result.Roles[v] = struct{}{}
				for _, p := range perms {
					result.Permissions[p] = struct{}{}
				}
				continue
			}
			if rule.Defaults.IncludeUnmapped {
				result.Roles[v] = struct{}{}
				continue
			}
			if rule.Defaults.DenyIfNoMatch {
				return Result{}, fmt.Errorf("translation: value %q on source %q matched no mapping", v, src.Name)
			}
		}
	}

	return result, nil
}

func lookupDotPath(claims map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = claims
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func splitSource(raw any, kind SourceType) []string {
	switch kind {
	case SourceArray:
		arr, ok := raw.([]any)
		if !ok {
			return nil
		}
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case SourceSpaceDelimited:
		s, _ := raw.(string)
		if s == "" {
			return nil
		}
		return strings.Fields(s)
	case SourceCommaDelimited:
		s, _ := raw.(string)
		if s == "" {
			return nil
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default: // SourceString
		s, ok := raw.(string)
		if !ok || s == "" {
			return nil
		}
		return []string{s}
	}
}

func applyOp(op TransformOp, v string) string {
	switch op.Op {
	case "strip-prefix":
		return strings.TrimPrefix(v, op.Value)
	case "replace":
		return strings.ReplaceAll(v, op.From, op.To)
	case "lowercase":
		return strings.ToLower(v)
	case "uppercase":
		return strings.ToUpper(v)
	case "regex":
		re := op.compiled
		if re == nil {
			var err error
			re, err = regexp.Compile(op.Pattern)
			if err != nil {
				return v
			}
		}
		return re.ReplaceAllString(v, op.Replacement)
	default:
		return v
	}
}

// digestClaims produces a stable digest of a claims map for cache keying.
func digestClaims(claims map[string]any) string {
	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, claims[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Service is the cache-through front for Token Translation (§4.4): a
// cache keyed by (providerId, issuer, subject, claims-digest) avoids
// re-translating the same token, invalidated wholesale on version
// activation.
type Service struct {
	mu       sync.RWMutex
	provider Provider
	cache    *lru.Cache[string, Result]
}

// NewService builds a Service around the given provider with an LRU cache
// of cacheSize entries.
func NewService(provider Provider, cacheSize int) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 10_000
	}
	c, err := lru.New[string, Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("translation: cache init: %w", err)
	}
	return &Service{provider: provider, cache: c}, nil
}

func (s *Service) cacheKey(issuer, subject string, claims map[string]any) string {
	return fmt.Sprintf("%d:%s:%s:%s", s.provider.Priority(), issuer, subject, digestClaims(claims))
}

// Translate returns the cached Result when present, otherwise delegates
// to the provider and caches the outcome.
func (s *Service) Translate(ctx context.Context, issuer, subject string, claims map[string]any) (Result, error) {
	key := s.cacheKey(issuer, subject, claims)

	s.mu.RLock()
	if cached, ok := s.cache.Get(key); ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	result, err := s.provider.Translate(ctx, issuer, subject, claims)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	s.cache.Add(key, result)
	s.mu.Unlock()

	return result, nil
}

// InvalidateAll clears the cache; called on rule-set version activation.
func (s *Service) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}

// SetProvider swaps the active provider (e.g. after hot-reloading a new
// config-file version) and invalidates the cache.
func (s *Service) SetProvider(p Provider) {
	s.mu.Lock()
	s.provider = p
	s.mu.Unlock()
	s.InvalidateAll()
}
