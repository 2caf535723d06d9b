package tokenrevoke

import (
	"math"
	"sync"

	"github.com/ipfs/bbloom"
)

// revocationBloom is a thread-safe pre-check layer in front of the
// authoritative revocation repository (§4.5). A negative answer from the
// bloom filter is definitive (no false negatives); a positive answer only
// means "maybe revoked, consult the cache/repository".
type revocationBloom struct {
	mu     sync.RWMutex
	filter *bbloom.Bloom
}

// newRevocationBloom sizes the filter from the configured expected item
// count and false-positive target (§4.5 bloom pre-check).
func newRevocationBloom(expectedItems int, falsePositive float64) (*revocationBloom, error) {
	if expectedItems <= 0 {
		expectedItems = 1_000_000
	}
	if falsePositive <= 0 || falsePositive >= 1 {
		falsePositive = 0.01
	}
	hashes := math.Max(1, math.Round(-math.Log2(falsePositive)))

	filter, err := bbloom.New(float64(expectedItems), hashes)
	if err != nil {
		return nil, err
	}
	return &revocationBloom{filter: filter}, nil
}

func (b *revocationBloom) Add(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.Add([]byte(key))
}

// MaybeContains returns false only when the key is definitely not present.
func (b *revocationBloom) MaybeContains(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.Has([]byte(key))
}
