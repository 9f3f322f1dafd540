// Package votecache caches computed tier results per content identifier
// across two levels: a session-lifetime in-memory map and the persistent
// "local" store namespace with a 24h read-time TTL.
package votecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hazyhaar/ratiometer/tier"
)

// DefaultTTL is how long a persisted entry stays valid.
const DefaultTTL = 24 * time.Hour

// Store is the persistent layer: the "local" namespace of the KV store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// entry is the persisted shape: the result plus its creation time.
type entry struct {
	TierData  tier.Result `json:"tierData"`
	Timestamp int64       `json:"timestamp"` // epoch milliseconds
}

// Options tunes the cache.
type Options struct {
	// TTL for persistent entries. Default: 24h.
	TTL time.Duration
	// Clock overrides the wall clock (tests).
	Clock clockwork.Clock
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Cache is the two-level lookup. The in-memory level never expires within
// a session; only the persistent level enforces the TTL.
type Cache struct {
	store  Store
	opts   Options
	logger *slog.Logger

	mu  sync.Mutex
	mem map[string]tier.Result
}

// New creates a Cache over the given persistent store.
func New(store Store, opts Options) *Cache {
	opts.defaults()
	return &Cache{
		store:  store,
		opts:   opts,
		logger: opts.Logger,
		mem:    make(map[string]tier.Result),
	}
}

// Get looks up id, in-memory first, then the persistent store. A valid
// persistent hit is promoted into the in-memory level. Expired persistent
// entries are treated as absent.
func (c *Cache) Get(ctx context.Context, id string) (tier.Result, bool, error) {
	c.mu.Lock()
	res, ok := c.mem[id]
	c.mu.Unlock()
	if ok {
		return res, true, nil
	}

	raw, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return tier.Result{}, false, fmt.Errorf("votecache: persistent get %s: %w", id, err)
	}
	if !ok {
		return tier.Result{}, false, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// A corrupt entry is a miss; the next successful fetch overwrites it.
		c.logger.Warn("votecache: corrupt persistent entry", "id", id, "error", err)
		return tier.Result{}, false, nil
	}

	age := c.opts.Clock.Now().Sub(time.UnixMilli(e.Timestamp))
	if age >= c.opts.TTL {
		return tier.Result{}, false, nil
	}

	c.mu.Lock()
	c.mem[id] = e.TierData
	c.mu.Unlock()
	return e.TierData, true, nil
}

// Put writes id=res through both levels, stamping the current time on the
// persistent entry.
func (c *Cache) Put(ctx context.Context, id string, res tier.Result) error {
	c.mu.Lock()
	c.mem[id] = res
	c.mu.Unlock()

	raw, err := json.Marshal(entry{TierData: res, Timestamp: c.opts.Clock.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("votecache: encode %s: %w", id, err)
	}
	if err := c.store.Set(ctx, id, raw); err != nil {
		return fmt.Errorf("votecache: persistent set %s: %w", id, err)
	}
	return nil
}

// MemSize returns the number of in-memory entries (diagnostics).
func (c *Cache) MemSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mem)
}
