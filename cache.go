package stampede

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/stampede/codec"
	"github.com/unkn0wn-root/stampede/internal/wire"
	"github.com/unkn0wn-root/stampede/kv"
	"github.com/unkn0wn-root/stampede/lock"
)

type cache[V any] struct {
	ns    string
	store kv.Store
	codec codec.Codec[V]
	log   Logger
	hooks Hooks

	ttl        time.Duration
	nullTTL    time.Duration
	logicalTTL time.Duration
	lockTTL    time.Duration
	lockRetry  time.Duration
	lockWait   time.Duration

	closeStore bool
	refresh    *refreshPool[V]
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("stampede: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("stampede: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("stampede: namespace is required")
	}

	c := &cache[V]{
		ns:         opts.Namespace,
		store:      opts.Store,
		codec:      opts.Codec,
		closeStore: opts.CloseStore,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.ttl = coalesce[time.Duration](opts.TTL, 30*time.Minute)
	c.nullTTL = coalesce[time.Duration](opts.NullTTL, 2*time.Minute)
	c.logicalTTL = coalesce[time.Duration](opts.LogicalTTL, 30*time.Minute)
	c.lockTTL = coalesce[time.Duration](opts.LockTTL, 10*time.Second)
	c.lockRetry = coalesce[time.Duration](opts.LockRetry, 50*time.Millisecond)
	c.lockWait = coalesce[time.Duration](opts.LockWait, time.Second)

	workers := coalesce[int](opts.RefreshWorkers, 10)
	queue := coalesce[int](opts.RefreshQueue, 256)
	c.refresh = newRefreshPool[V](c, workers, queue)

	return c, nil
}

func (c *cache[V]) dataKey(id string) string { return "cache:" + c.ns + ":" + id }

// lockName feeds the lock package, which prepends "lock:"; the rebuild lock
// for cache:shop:7 lives at lock:shop:7.
func (c *cache[V]) lockName(id string) string { return c.ns + ":" + id }

func (c *cache[V]) Close(ctx context.Context) error {
	c.refresh.close()
	if c.closeStore {
		return c.store.Close(ctx)
	}
	return nil
}

func (c *cache[V]) Set(ctx context.Context, id string, value V, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("stampede: encode %q: %w", id, err)
	}
	return c.store.Set(ctx, c.dataKey(id), payload, ttl)
}

func (c *cache[V]) SetLogical(ctx context.Context, id string, value V, logicalTTL time.Duration) error {
	if logicalTTL == 0 {
		logicalTTL = c.logicalTTL
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("stampede: encode %q: %w", id, err)
	}
	b := wire.Encode(time.Now().Add(logicalTTL), payload)
	// no physical TTL: the entry lives until evicted or overwritten
	return c.store.Set(ctx, c.dataKey(id), b, 0)
}

func (c *cache[V]) Invalidate(ctx context.Context, id string) error {
	return c.store.Del(ctx, c.dataKey(id))
}

type lookupState int

const (
	lookupMiss lookupState = iota
	lookupHit
	lookupNull
)

// lookup reads a physical-TTL entry. A zero-length payload is the null
// marker ("looked up, not found"); values are assumed to never encode to
// zero bytes.
func (c *cache[V]) lookup(ctx context.Context, key string) (V, lookupState, error) {
	var zero V
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return zero, lookupMiss, err
	}
	if len(raw) == 0 {
		return zero, lookupNull, nil
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		_ = c.store.Del(ctx, key) // self-heal
		c.hooks.SelfHeal(key, "value_decode")
		c.log.Warn("dropped undecodable cache entry", Fields{"key": key, "err": err})
		return zero, lookupMiss, nil
	}
	return v, lookupHit, nil
}

func (c *cache[V]) Get(ctx context.Context, id string, load LoaderFunc[V]) (V, bool, error) {
	var zero V
	key := c.dataKey(id)

	v, st, err := c.lookup(ctx, key)
	if err != nil {
		return zero, false, err
	}
	switch st {
	case lookupHit:
		return v, true, nil
	case lookupNull:
		return zero, false, nil
	}

	return c.loadAndFill(ctx, key, id, load)
}

// loadAndFill runs the loader on a true miss and caches either the value or
// a null marker.
func (c *cache[V]) loadAndFill(ctx context.Context, key, id string, load LoaderFunc[V]) (V, bool, error) {
	var zero V
	v, found, err := load(ctx, id)
	if err != nil {
		return zero, false, err
	}
	if !found {
		if serr := c.store.Set(ctx, key, nil, c.nullTTL); serr != nil {
			c.log.Warn("null marker write failed", Fields{"key": key, "err": serr})
		} else {
			c.hooks.NullStored(key)
		}
		return zero, false, nil
	}
	payload, err := c.codec.Encode(v)
	if err != nil {
		return zero, false, fmt.Errorf("stampede: encode %q: %w", id, err)
	}
	if serr := c.store.Set(ctx, key, payload, c.ttl); serr != nil {
		// value is correct even if the fill failed; next reader retries
		c.log.Warn("cache fill failed", Fields{"key": key, "err": serr})
	}
	return v, true, nil
}

func (c *cache[V]) GetMutex(ctx context.Context, id string, load LoaderFunc[V]) (V, bool, error) {
	var zero V
	key := c.dataKey(id)
	deadline := time.Now().Add(c.lockWait)

	for {
		v, st, err := c.lookup(ctx, key)
		if err != nil {
			return zero, false, err
		}
		switch st {
		case lookupHit:
			return v, true, nil
		case lookupNull:
			return zero, false, nil
		}

		m := lock.New(c.store, c.lockName(id), c.lockTTL)
		acquired, err := m.TryLock(ctx)
		if err != nil {
			return zero, false, err
		}
		if acquired {
			return c.rebuildLocked(ctx, m, key, id, load)
		}

		c.hooks.LockContention(key)
		if time.Now().After(deadline) {
			return zero, false, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return zero, false, ctx.Err()
		case <-time.After(c.lockRetry):
		}
	}
}

// rebuildLocked runs under an acquired rebuild lock: double-check the cache,
// then load and fill. The lock is released on every path.
func (c *cache[V]) rebuildLocked(ctx context.Context, m *lock.Mutex, key, id string, load LoaderFunc[V]) (V, bool, error) {
	defer func() {
		if err := m.Unlock(ctx); err != nil {
			c.log.Warn("rebuild lock release", Fields{"key": key, "err": err})
		}
	}()

	var zero V
	// another rebuilder may have filled the key between our miss and the
	// lock grant
	v, st, err := c.lookup(ctx, key)
	if err != nil {
		return zero, false, err
	}
	switch st {
	case lookupHit:
		return v, true, nil
	case lookupNull:
		return zero, false, nil
	}
	return c.loadAndFill(ctx, key, id, load)
}

func (c *cache[V]) GetLogical(ctx context.Context, id string, load LoaderFunc[V]) (V, bool, error) {
	var zero V
	key := c.dataKey(id)

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		// this strategy never populates on miss; pre-warm with SetLogical
		return zero, false, nil
	}

	v, expireAt, ok := c.decodeLogical(ctx, key, raw)
	if !ok {
		return zero, false, nil
	}
	if time.Now().Before(expireAt) {
		return v, true, nil
	}

	// Stale. Try to become the refresher; everyone else serves the stale
	// value untouched. Lock errors are treated as contention: this is a read
	// path and must not fail because of the refresh machinery.
	m := lock.New(c.store, c.lockName(id), c.lockTTL)
	acquired, lerr := m.TryLock(ctx)
	if lerr != nil {
		c.log.Warn("refresh lock acquire", Fields{"key": key, "err": lerr})
		return v, true, nil
	}
	if acquired {
		c.scheduleRefresh(ctx, m, key, id, load)
	}
	return v, true, nil
}

// scheduleRefresh re-checks expiry under the lock and hands the rebuild to
// the worker pool. Exactly one release happens per acquisition: by the worker
// after the refresh, or here when no job was scheduled.
func (c *cache[V]) scheduleRefresh(ctx context.Context, m *lock.Mutex, key, id string, load LoaderFunc[V]) {
	unlock := func() {
		if err := m.Unlock(ctx); err != nil {
			c.log.Warn("refresh lock release", Fields{"key": key, "err": err})
		}
	}

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		unlock()
		return
	}
	_, expireAt, decoded := c.decodeLogical(ctx, key, raw)
	if !decoded || time.Now().Before(expireAt) {
		// someone refreshed between our read and the lock grant
		unlock()
		return
	}

	if c.refresh.submit(refreshJob[V]{m: m, key: key, id: id, load: load}) {
		c.hooks.RefreshScheduled(key)
		return
	}
	// explicit backpressure: full queue drops the refresh rather than grow
	// unbounded; the entry stays stale until a later expired read
	unlock()
	c.hooks.RefreshDropped(key)
	c.log.Warn("refresh queue full, dropped", Fields{"key": key})
}

// decodeLogical unwraps a logical-expiry envelope, self-healing entries that
// fail strict validation.
func (c *cache[V]) decodeLogical(ctx context.Context, key string, raw []byte) (V, time.Time, bool) {
	var zero V
	expireAt, payload, err := wire.Decode(raw)
	if err != nil {
		_ = c.store.Del(ctx, key)
		c.hooks.SelfHeal(key, "corrupt")
		c.log.Warn("dropped corrupt logical entry", Fields{"key": key})
		return zero, time.Time{}, false
	}
	v, err := c.codec.Decode(payload)
	if err != nil {
		_ = c.store.Del(ctx, key)
		c.hooks.SelfHeal(key, "value_decode")
		c.log.Warn("dropped undecodable logical entry", Fields{"key": key, "err": err})
		return zero, time.Time{}, false
	}
	return v, expireAt, true
}
