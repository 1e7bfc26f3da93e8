package arcgis

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mdc-tools/parcel-insights/internal/observability"
)

// CachedExecutor memoizes successful query responses for a fixed TTL,
// keyed by the full parameter set. Entries are immutable once written
// and expire by elapsed time; failures are never cached so transient
// outages can be retried immediately.
type CachedExecutor struct {
	inner   Executor
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    *QueryResponse
	expires time.Time
}

// NewCachedExecutor creates a cache decorator around an executor.
func NewCachedExecutor(inner Executor, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedExecutor {
	return &CachedExecutor{
		inner:   inner,
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedExecutor) Query(ctx context.Context, svc Service, layer int, params Params) (*QueryResponse, error) {
	key := cacheKey(svc, layer, params)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.clock.Now().Before(e.expires) {
			c.mu.Unlock()
			c.metrics.QueryCache.WithLabelValues("hit").Inc()
			return e.resp, nil
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()
	c.metrics.QueryCache.WithLabelValues("miss").Inc()

	resp, err := c.inner.Query(ctx, svc, layer, params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{resp: resp, expires: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()
	return resp, nil
}

// cacheKey serializes service, layer, and sorted params so equal
// requests collide regardless of map iteration order.
func cacheKey(svc Service, layer int, params Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(svc.URL)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(layer))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
