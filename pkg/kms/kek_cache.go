package kms

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sharebin/svc/util"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// KEKCache keeps unwrapped data keys for a short while so repeat reads of a
// sealed blob do not hit the KMS each time.
type KEKCache struct {
	cache    sync.Map
	ttl      time.Duration
	adapter  *Adapter
	group    singleflight.Group
	stopChan chan struct{}
	stopped  bool
	mu       sync.Mutex
}

type cachedKEK struct {
	unwrappedDEK []byte
	expiresAt    time.Time
	mu           sync.RWMutex
}

func NewKEKCache(adapter *Adapter, ttl time.Duration) *KEKCache {
	c := &KEKCache{
		ttl:      ttl,
		adapter:  adapter,
		stopChan: make(chan struct{}),
	}
	go c.evictionLoop()
	return c
}

// DecryptDEK returns a copy of the unwrapped key. The cache key covers both
// the wrapped bytes and encCtx, so a hit never bypasses the context check.
func (c *KEKCache) DecryptDEK(ctx context.Context, wrapped []byte, encCtx EncryptionContext) ([]byte, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrProviderUnavailable
	}
	c.mu.Unlock()

	cacheKey := cacheKeyFor(wrapped, encCtx)
	result, err, _ := c.group.Do(cacheKey, func() (interface{}, error) {
		if cached, ok := c.cache.Load(cacheKey); ok {
			entry := cached.(*cachedKEK)
			entry.mu.RLock()
			if time.Now().Before(entry.expiresAt) && entry.unwrappedDEK != nil {
				dek := make([]byte, len(entry.unwrappedDEK))
				copy(dek, entry.unwrappedDEK)
				entry.mu.RUnlock()
				return dek, nil
			}
			entry.mu.RUnlock()
			c.cache.Delete(cacheKey)
		}
		unwrapped, err := c.adapter.DecryptWithContext(ctx, wrapped, encCtx)
		if err != nil {
			return nil, err
		}
		entry := &cachedKEK{
			unwrappedDEK: make([]byte, len(unwrapped)),
			expiresAt:    time.Now().Add(c.ttl).Add(hashToJitter(cacheKey, c.ttl/10)),
		}
		copy(entry.unwrappedDEK, unwrapped)
		c.cache.Store(cacheKey, entry)
		return unwrapped, nil
	})
	if err != nil {
		return nil, err
	}
	dek := result.([]byte)
	out := make([]byte, len(dek))
	copy(out, dek)
	return out, nil
}
func cacheKeyFor(wrapped []byte, encCtx EncryptionContext) string {
	h := sha256.New()
	h.Write(wrapped)
	h.Write([]byte{0})
	h.Write(serializeEncryptionContext(encCtx))
	return hex.EncodeToString(h.Sum(nil))
}

// hashToJitter spreads expiries so entries created together do not all
// expire in the same tick.
func hashToJitter(hashStr string, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	var sum int64
	for i := 0; i < len(hashStr) && i < 16; i++ {
		sum += int64(hashStr[i])
	}
	return time.Duration(sum*int64(time.Millisecond)) % maxJitter
}
func (c *KEKCache) evictionLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}
func (c *KEKCache) evictExpired() {
	now := time.Now()
	c.cache.Range(func(key, value interface{}) bool {
		entry := value.(*cachedKEK)
		entry.mu.Lock()
		if now.After(entry.expiresAt) {
			util.Wipe(entry.unwrappedDEK)
			entry.unwrappedDEK = nil
			c.cache.Delete(key)
		}
		entry.mu.Unlock()
		return true
	})
}

// Stop ends the eviction loop and wipes every cached key.
func (c *KEKCache) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopChan)
	c.mu.Unlock()

	c.cache.Range(func(key, value interface{}) bool {
		entry := value.(*cachedKEK)
		entry.mu.Lock()
		util.Wipe(entry.unwrappedDEK)
		entry.unwrappedDEK = nil
		entry.mu.Unlock()
		c.cache.Delete(key)
		return true
	})
}

type CacheStats struct {
	Entries int
	Expired int
}

func (c *KEKCache) Stats() CacheStats {
	var stats CacheStats
	now := time.Now()
	c.cache.Range(func(key, value interface{}) bool {
		stats.Entries++
		entry := value.(*cachedKEK)
		entry.mu.RLock()
		if now.After(entry.expiresAt) {
			stats.Expired++
		}
		entry.mu.RUnlock()
		return true
	})
	return stats
}
