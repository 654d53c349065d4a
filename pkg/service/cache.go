package service

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"

	"github.com/vjranagit/tempomatch/pkg/types"
)

// ResultCache caches match outcomes keyed by the full match request and
// the store generation the outcome was computed at. Every entry costs 1,
// so MaxCost is the entry limit.
type ResultCache struct {
	cache  *ristretto.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewResultCache creates a cache holding up to maxEntries outcomes
func NewResultCache(maxEntries int64) (*ResultCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &ResultCache{cache: cache}, nil
}

// Get retrieves a cached outcome
func (rc *ResultCache) Get(req *types.MatchRequest, generation uint64) (*Outcome, bool) {
	v, ok := rc.cache.Get(generateKey(req, generation))
	if !ok {
		rc.misses.Add(1)
		return nil, false
	}
	rc.hits.Add(1)
	return v.(*Outcome), true
}

// Put stores an outcome. It waits for the write to be applied so that an
// immediate Get observes it.
func (rc *ResultCache) Put(req *types.MatchRequest, generation uint64, outcome *Outcome) {
	rc.cache.Set(generateKey(req, generation), outcome, 1)
	rc.cache.Wait()
}

// Invalidate drops all entries
func (rc *ResultCache) Invalidate() {
	rc.cache.Clear()
}

// Stats returns hit and miss counts
func (rc *ResultCache) Stats() (hits, misses uint64) {
	return rc.hits.Load(), rc.misses.Load()
}

// Close releases the cache goroutines
func (rc *ResultCache) Close() {
	rc.cache.Close()
}

// generateKey generates a cache key from a match request
func generateKey(req *types.MatchRequest, generation uint64) string {
	data, _ := json.Marshal(map[string]interface{}{
		"gen":      generation,
		"tenant":   req.TenantID,
		"anchor":   req.Anchor,
		"others":   req.Others,
		"start":    req.StartTime.UnixNano(),
		"end":      req.EndTime.UnixNano(),
		"window":   int64(req.Window),
		"asym":     req.Asymmetry,
		"distance": req.ReturnDistance,
		"dupnan":   req.DuplicateNaN,
		"join":     req.Join,
	})

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}
