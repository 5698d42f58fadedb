package dedup

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"beacon/pkg/metrics"
)

// localCache is the in-process layer of the duplicate check: a bounded LRU
// with a short TTL that absorbs rapid repeated submissions without a store
// round trip. It is strictly an optimization: a miss always falls through to
// the authoritative SetNX reservation, so clearing it can only add latency,
// never admit a duplicate.
type localCache struct {
	lru *expirable.LRU[string, string]
}

func newLocalCache(size int, ttl time.Duration) *localCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &localCache{
		lru: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Get returns the record ID reserved for the fingerprint, if locally known.
func (c *localCache) Get(fingerprint string) (string, bool) {
	recordID, ok := c.lru.Get(fingerprint)
	if ok {
		metrics.DedupCacheHitsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.DedupCacheHitsTotal.WithLabelValues("miss").Inc()
	}
	return recordID, ok
}

func (c *localCache) Add(fingerprint, recordID string) {
	c.lru.Add(fingerprint, recordID)
}

func (c *localCache) Len() int {
	return c.lru.Len()
}

func (c *localCache) Purge() {
	c.lru.Purge()
}
