// Package dedup suppresses redelivered webhook events. CheckAndMark is a
// single atomic check-then-set: for any key, exactly one caller within the
// TTL window observes "not yet seen".
package dedup

import (
	"context"
	"sync"
	"time"
)

// Deduplicator is the atomic check-and-mark contract.
type Deduplicator interface {
	// CheckAndMark marks (namespace, key) as seen and reports whether it
	// had already been seen within the TTL window.
	CheckAndMark(ctx context.Context, namespace, key string) (seen bool, err error)
}

// MemoryDeduplicator is the single-process backend used by tests and
// single-node deployments. Expiry is lazy plus a sweep on write.
type MemoryDeduplicator struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryDeduplicator creates an in-memory deduplicator with the given TTL.
func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	return &MemoryDeduplicator{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// CheckAndMark implements Deduplicator. The single mutex makes the
// check-then-set indivisible under concurrent callers.
func (d *MemoryDeduplicator) CheckAndMark(_ context.Context, namespace, key string) (bool, error) {
	full := namespace + ":" + key
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if expiry, ok := d.entries[full]; ok && now.Before(expiry) {
		return true, nil
	}
	d.entries[full] = now.Add(d.ttl)

	// Opportunistic sweep so the map stays bounded without a background
	// goroutine.
	if len(d.entries)%1024 == 0 {
		for k, expiry := range d.entries {
			if now.After(expiry) {
				delete(d.entries, k)
			}
		}
	}
	return false, nil
}
