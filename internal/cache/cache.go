package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

// ComputeFn produces the artifact for a fingerprint. It runs at most once per
// fingerprint at any moment; concurrent callers for the same fingerprint wait
// on the in-flight computation instead of starting a second one.
type ComputeFn func(ctx context.Context) (types.ArtifactValue, error)

type entry struct {
	fp        Fingerprint
	val       types.ArtifactValue
	expiresAt time.Time
}

// ArtifactCache is the idempotency layer in front of every artifact
// generator. Entries are written once per fingerprint and never replaced with
// different content; failed computations are not cached, so the next caller
// retries.
type ArtifactCache struct {
	log *logger.Logger

	mu    sync.Mutex
	ll    *list.List
	items map[Fingerprint]*list.Element

	maxEntries int
	ttl        time.Duration

	remote RemoteStore
	group  singleflight.Group
}

func NewArtifactCache(log *logger.Logger, maxEntries int, ttl time.Duration, remote RemoteStore) *ArtifactCache {
	if maxEntries <= 0 {
		maxEntries = 2048
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ArtifactCache{
		log:        log.With("component", "ArtifactCache"),
		ll:         list.New(),
		items:      make(map[Fingerprint]*list.Element),
		maxEntries: maxEntries,
		ttl:        ttl,
		remote:     remote,
	}
}

// GetOrCompute returns the cached artifact for fp, or runs compute exactly
// once and caches its result. The computation runs detached from the caller's
// cancellation: a disconnecting client must not abort a generation other
// callers may still want cached. Callers remain responsible for re-checking
// their own context before applying the returned value.
func (c *ArtifactCache) GetOrCompute(ctx context.Context, fp Fingerprint, compute ComputeFn) (types.ArtifactValue, error) {
	if val, ok := c.lookup(fp); ok {
		return val, nil
	}

	v, err, _ := c.group.Do(string(fp), func() (interface{}, error) {
		// Re-check under the flight: a previous flight may have landed
		// between our lookup and Do.
		if val, ok := c.lookup(fp); ok {
			return val, nil
		}
		if c.remote != nil {
			if val, ok := c.remoteLookup(fp); ok {
				c.store(fp, val)
				return val, nil
			}
		}

		val, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return types.ArtifactValue{}, err
		}
		c.store(fp, val)
		if c.remote != nil {
			c.remoteStore(fp, val)
		}
		return val, nil
	})
	if err != nil {
		return types.ArtifactValue{}, err
	}
	return v.(types.ArtifactValue), nil
}

// Peek returns a cached value without triggering computation.
func (c *ArtifactCache) Peek(fp Fingerprint) (types.ArtifactValue, bool) {
	return c.lookup(fp)
}

func (c *ArtifactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *ArtifactCache) lookup(fp Fingerprint) (types.ArtifactValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[fp]
	if !ok {
		return types.ArtifactValue{}, false
	}
	ent := el.Value.(*entry)
	if time.Now().After(ent.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, fp)
		return types.ArtifactValue{}, false
	}
	c.ll.MoveToFront(el)
	return ent.val, true
}

func (c *ArtifactCache) store(fp Fingerprint, val types.ArtifactValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[fp]; exists {
		// A fingerprint maps to exactly one value for the cache lifetime.
		return
	}
	el := c.ll.PushFront(&entry{fp: fp, val: val, expiresAt: time.Now().Add(c.ttl)})
	c.items[fp] = el
	for c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).fp)
	}
}

func (c *ArtifactCache) remoteLookup(fp Fingerprint) (types.ArtifactValue, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, ok, err := c.remote.Get(ctx, string(fp))
	if err != nil {
		c.log.Warn("Remote cache read failed", "fingerprint", fp, "error", err)
		return types.ArtifactValue{}, false
	}
	return val, ok
}

func (c *ArtifactCache) remoteStore(fp Fingerprint, val types.ArtifactValue) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.remote.Set(ctx, string(fp), val, c.ttl); err != nil {
		c.log.Warn("Remote cache write failed", "fingerprint", fp, "error", err)
	}
}
