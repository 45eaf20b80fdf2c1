// Package dedupe defines the interface for idempotency tracking.
package dedupe

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultMaxSize = 100_000
	defaultTTL     = 24 * time.Hour
)

// Deduper records seen log IDs to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets an id so a log that was marked seen but never
	// processed (queue backpressure) can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64

	// Close stops background expiry.
	Close()
}

// inMemoryDeduper keeps ids in a capacity-bounded cache with a TTL.
// When full, the least recently recorded id is evicted.
type inMemoryDeduper struct {
	maxSize int
	ttl     time.Duration
	cache   *ttlcache.Cache[string, struct{}]
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		ttl:     defaultTTL,
	}
	for _, opt := range opts {
		opt(d)
	}

	cacheOpts := []ttlcache.Option[string, struct{}]{
		ttlcache.WithTTL[string, struct{}](d.ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	}
	if d.maxSize > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, struct{}](uint64(d.maxSize)))
	}
	d.cache = ttlcache.New(cacheOpts...)
	go d.cache.Start()

	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	_, found := d.cache.GetOrSet(id, struct{}{})
	return found
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.cache.Delete(id)
}

func (d *inMemoryDeduper) Size() int64 {
	return int64(d.cache.Len())
}

func (d *inMemoryDeduper) Close() {
	d.cache.Stop()
}
