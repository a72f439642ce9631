package cache

import (
	"sync"
	"time"
)

const (
	defaultDedupeTTL  = 10 * time.Minute
	defaultDedupeKeys = 4096
)

// Dedupe is a TTL-bounded set of recently seen delivery keys. The webhook
// handler consults it so a redelivered event does not run the analysis
// twice.
type Dedupe struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxKeys int
}

// NewDedupe creates a dedupe window. Non-positive arguments take defaults.
func NewDedupe(ttl time.Duration, maxKeys int) *Dedupe {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	if maxKeys <= 0 {
		maxKeys = defaultDedupeKeys
	}
	return &Dedupe{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxKeys: maxKeys,
	}
}

// Seen records key and reports whether it was already seen within the TTL
// window. An empty key is never a duplicate.
func (d *Dedupe) Seen(key string) bool {
	return d.SeenAt(key, time.Now())
}

// SeenAt is Seen with an explicit clock. A duplicate refreshes the key's
// window.
func (d *Dedupe) SeenAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	at, ok := d.seen[key]
	d.seen[key] = now
	if ok && now.Sub(at) < d.ttl {
		return true
	}
	d.prune(now)
	return false
}

// prune drops expired keys, then the oldest keys while over capacity.
func (d *Dedupe) prune(now time.Time) {
	for key, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, key)
		}
	}
	for len(d.seen) > d.maxKeys {
		var oldestKey string
		var oldestAt time.Time
		for key, at := range d.seen {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey, oldestAt = key, at
			}
		}
		delete(d.seen, oldestKey)
	}
}

// Len reports the number of tracked keys.
func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// DeliveryKey builds the dedupe key for one webhook delivery. Deliveries
// without an id are never deduplicated.
func DeliveryKey(event, deliveryID string) string {
	if deliveryID == "" {
		return ""
	}
	return event + ":" + deliveryID
}
