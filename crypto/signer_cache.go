// signer_cache.go implements an LRU cache of recovered seal signers, keyed by
// keccak256(hash || sig). Relayers routinely resubmit headers that were
// already checked (duplicate submissions, retried batches), and recovery is
// the most expensive step of header validation.
package crypto

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
)

// DefaultSignerCacheSize is used when NewSignerCache is given a
// non-positive capacity.
const DefaultSignerCacheSize = 4096

// SignerCacheStats holds hit/miss statistics for a SignerCache.
type SignerCacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// SignerCache memoizes RecoverAddress. It is safe for concurrent use.
type SignerCache struct {
	cache *lru.Cache[common.Hash, common.Address]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewSignerCache creates a signer cache holding up to capacity entries.
func NewSignerCache(capacity int) *SignerCache {
	if capacity <= 0 {
		capacity = DefaultSignerCacheSize
	}
	return &SignerCache{cache: lru.NewCache[common.Hash, common.Address](capacity)}
}

// signerCacheKey derives the cache key for a (hash, sig) pair.
func signerCacheKey(hash common.Hash, sig []byte) common.Hash {
	return Keccak256Hash(hash[:], sig)
}

// Recover returns the signer of sig over hash, consulting the cache first.
// Failed recoveries are not cached.
func (c *SignerCache) Recover(hash common.Hash, sig []byte) (common.Address, error) {
	key := signerCacheKey(hash, sig)
	if addr, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return addr, nil
	}
	c.misses.Add(1)

	addr, err := RecoverAddress(hash, sig)
	if err != nil {
		return common.Address{}, err
	}
	c.cache.Add(key, addr)
	return addr, nil
}

// Len returns the number of cached signers.
func (c *SignerCache) Len() int {
	return c.cache.Len()
}

// Stats returns a snapshot of the cache statistics.
func (c *SignerCache) Stats() SignerCacheStats {
	return SignerCacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.cache.Len(),
	}
}
