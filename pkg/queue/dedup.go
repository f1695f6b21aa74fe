package queue

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/pkg/metrics"
)

type dedupEntry struct {
	scanID string
	seenAt time.Time
}

// DeduplicationCache remembers recent scan initiations so a repeated request
// for the same agent and prompt within the window can reuse the existing scan
type DeduplicationCache struct {
	cache     map[string]dedupEntry
	ttl       time.Duration
	mu        sync.RWMutex
	logger    *logrus.Logger
	stopChan  chan struct{}
	stopped   bool
	hitCount  int64
	missCount int64
}

// NewDeduplicationCache creates a new deduplication cache
func NewDeduplicationCache(ttl time.Duration, logger *logrus.Logger) *DeduplicationCache {
	cache := &DeduplicationCache{
		cache:    make(map[string]dedupEntry),
		ttl:      ttl,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	go cache.cleanupLoop()

	return cache
}

// Lookup returns the scan id recorded for agentID and prompt within the TTL window
func (dc *DeduplicationCache) Lookup(agentID, prompt string) (string, bool) {
	key := dc.generateKey(agentID, prompt)

	dc.mu.RLock()
	entry, exists := dc.cache[key]
	dc.mu.RUnlock()

	if exists && time.Since(entry.seenAt) < dc.ttl {
		atomic.AddInt64(&dc.hitCount, 1)
		metrics.RecordDedupLookup(true)
		dc.logger.WithFields(logrus.Fields{
			"agent_id": agentID,
			"scan_id":  entry.scanID,
			"age":      time.Since(entry.seenAt),
		}).Debug("Duplicate scan request detected")
		return entry.scanID, true
	}

	atomic.AddInt64(&dc.missCount, 1)
	metrics.RecordDedupLookup(false)
	return "", false
}

// Remember records scanID as the latest scan for agentID and prompt
func (dc *DeduplicationCache) Remember(agentID, prompt, scanID string) {
	key := dc.generateKey(agentID, prompt)

	dc.mu.Lock()
	dc.cache[key] = dedupEntry{scanID: scanID, seenAt: time.Now()}
	dc.mu.Unlock()
}

// Forget drops the entry for agentID and prompt
func (dc *DeduplicationCache) Forget(agentID, prompt string) {
	key := dc.generateKey(agentID, prompt)

	dc.mu.Lock()
	delete(dc.cache, key)
	dc.mu.Unlock()
}

// generateKey hashes the prompt so keys stay a consistent length
func (dc *DeduplicationCache) generateKey(agentID, prompt string) string {
	hash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s:%x", agentID, hash[:16])
}

// cleanupLoop periodically removes expired entries from the cache
func (dc *DeduplicationCache) cleanupLoop() {
	ticker := time.NewTicker(dc.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dc.cleanup()
		case <-dc.stopChan:
			return
		}
	}
}

func (dc *DeduplicationCache) cleanup() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := time.Now()
	expired := 0

	for key, entry := range dc.cache {
		if now.Sub(entry.seenAt) > dc.ttl {
			delete(dc.cache, key)
			expired++
		}
	}

	if expired > 0 {
		dc.logger.WithFields(logrus.Fields{
			"expired":   expired,
			"remaining": len(dc.cache),
		}).Debug("Deduplication cache cleanup")
	}
}

// Stop stops the cleanup goroutine
func (dc *DeduplicationCache) Stop() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if !dc.stopped {
		dc.stopped = true
		close(dc.stopChan)
		dc.logger.Info("Deduplication cache stopped")
	}
}

// Stats returns cache statistics
func (dc *DeduplicationCache) Stats() DedupStats {
	dc.mu.RLock()
	size := len(dc.cache)
	dc.mu.RUnlock()

	hits := atomic.LoadInt64(&dc.hitCount)
	misses := atomic.LoadInt64(&dc.missCount)

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return DedupStats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
		TTL:     dc.ttl.String(),
	}
}

// DedupStats represents deduplication cache statistics
type DedupStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"` // Percentage
	TTL     string  `json:"ttl"`
}
