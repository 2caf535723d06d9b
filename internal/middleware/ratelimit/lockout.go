package ratelimit

import (
	"math"
	"sync"
	"time"
)

// LockoutKeyKind discriminates the typed lockout keys named in §4.6.
type LockoutKeyKind int

const (
	LockoutKeyIP LockoutKeyKind = iota
	LockoutKeyUser
	LockoutKeyAPIKey
)

// LockoutKey is a typed failure-tracking key: ip:<addr>, user:<id>, or
// apikey:<prefix>.
type LockoutKey struct {
	Kind  LockoutKeyKind
	Value string
}

func (k LockoutKey) String() string {
	switch k.Kind {
	case LockoutKeyUser:
		return "user:" + k.Value
	case LockoutKeyAPIKey:
		return "apikey:" + k.Value
	default:
		return "ip:" + k.Value
	}
}

// LockoutInfo describes an active lockout, returned by StreamAllLockouts.
type LockoutInfo struct {
	Key        string
	LockedAt   time.Time
	Until      time.Time
	Count      int
}

type failureRecord struct {
	mu            sync.Mutex
	count         int
	windowStart   time.Time
	lockoutCount  int
	lockedUntil   time.Time
	lockedAt      time.Time
	countTTLStart time.Time
}

// LockoutTracker implements the Auth Rate Limiter / Lockout (§4.6): a
// sliding-window failure counter per typed key that escalates into a
// progressive lockout duration, built on the same shardedMap idiom
// limiter.go's per-key rate state uses.
type LockoutTracker struct {
	records *shardedMap[*failureRecord]

	window             time.Duration
	maxFailedAttempts  int
	baseLockout        time.Duration
	lockoutCountTTL    time.Duration
}

// LockoutConfig configures the tracker's thresholds.
type LockoutConfig struct {
	Window            time.Duration
	MaxFailedAttempts int
	BaseLockout       time.Duration
	LockoutCountTTL   time.Duration
}

// NewLockoutTracker builds a tracker from cfg, applying the spec's
// defaults when unset.
func NewLockoutTracker(cfg LockoutConfig) *LockoutTracker {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = 5
	}
	if cfg.BaseLockout <= 0 {
		cfg.BaseLockout = 30 * time.Second
	}
	if cfg.LockoutCountTTL <= 0 {
		cfg.LockoutCountTTL = 30 * 24 * time.Hour
	}
	return &LockoutTracker{
		records:           newShardedMap[*failureRecord](),
		window:            cfg.Window,
		maxFailedAttempts: cfg.MaxFailedAttempts,
		baseLockout:       cfg.BaseLockout,
		lockoutCountTTL:   cfg.LockoutCountTTL,
	}
}

// RecordFailure increments the failure counter for key within the sliding
// window. When the counter reaches MaxFailedAttempts, a lockout is
// written with duration base*1.5^lockoutCount (progressive).
func (t *LockoutTracker) RecordFailure(key LockoutKey) {
	keyStr := key.String()
	rec := t.records.getOrCreate(keyStr, func() *failureRecord {
		return &failureRecord{windowStart: time.Now(), countTTLStart: time.Now()}
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now()
	if now.Sub(rec.countTTLStart) > t.lockoutCountTTL {
		rec.lockoutCount = 0
		rec.countTTLStart = now
	}

	if now.Sub(rec.windowStart) > t.window {
		rec.count = 0
		rec.windowStart = now
	}
	rec.count++

	if rec.count >= t.maxFailedAttempts {
		duration := time.Duration(float64(t.baseLockout) * math.Pow(1.5, float64(rec.lockoutCount)))
		rec.lockedAt = now
		rec.lockedUntil = now.Add(duration)
		rec.lockoutCount++
		rec.count = 0
	}
}

// ClearFailures resets the failure counter on successful authentication,
// never the lockout count, per §4.6.
func (t *LockoutTracker) ClearFailures(key LockoutKey) {
	rec, ok := t.records.get(key.String())
	if !ok {
		return
	}
	rec.mu.Lock()
	rec.count = 0
	rec.windowStart = time.Now()
	rec.mu.Unlock()
}

// IsLockedOut is a single existence check for an active lockout.
func (t *LockoutTracker) IsLockedOut(key LockoutKey) bool {
	rec, ok := t.records.get(key.String())
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return !rec.lockedUntil.IsZero() && time.Now().Before(rec.lockedUntil)
}

// ClearLockout removes the lockout but preserves lockoutCount so the
// progressive multiplier still escalates on the next breach.
func (t *LockoutTracker) ClearLockout(key LockoutKey) {
	rec, ok := t.records.get(key.String())
	if !ok {
		return
	}
	rec.mu.Lock()
	rec.lockedUntil = time.Time{}
	rec.lockedAt = time.Time{}
	rec.mu.Unlock()
}

// StreamAllLockouts scans the namespace and yields every currently active
// lockout.
func (t *LockoutTracker) StreamAllLockouts() []LockoutInfo {
	var out []LockoutInfo
	now := time.Now()
	for i := range t.records.shards {
		s := &t.records.shards[i]
		s.mu.Lock()
		for k, rec := range s.items {
			rec.mu.Lock()
			if !rec.lockedUntil.IsZero() && now.Before(rec.lockedUntil) {
				out = append(out, LockoutInfo{
					Key:      k,
					LockedAt: rec.lockedAt,
					Until:    rec.lockedUntil,
					Count:    rec.lockoutCount,
				})
			}
			rec.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return out
}
