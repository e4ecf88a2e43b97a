package stampede

import (
	"context"
	"time"

	"github.com/unkn0wn-root/stampede/codec"
	"github.com/unkn0wn-root/stampede/kv"
)

// LoaderFunc fetches the source-of-truth value for an id.
// Return found=false when the id does not exist in the backend; the cache
// turns that into a null marker (Get/GetMutex) or leaves the entry alone
// (GetLogical refresh).
type LoaderFunc[V any] func(ctx context.Context, id string) (V, bool, error)

// Cache is the high-level cache-aside API. V is the caller's value type;
// serialization is handled by a pluggable codec.Codec[V].
//
// The three read strategies are alternatives, not layers: pick one per
// namespace. Get and GetMutex share the physical-TTL entry encoding;
// GetLogical uses the logical-expiry envelope written by SetLogical and the
// two must not be mixed under one namespace.
type Cache[V any] interface {
	// Set writes value with a physical TTL (plain write-behind of the
	// cache-aside pattern).
	Set(ctx context.Context, id string, value V, ttl time.Duration) error

	// SetLogical writes value wrapped with an embedded logical expiry and no
	// physical TTL. Used to pre-warm namespaces read via GetLogical.
	SetLogical(ctx context.Context, id string, value V, logicalTTL time.Duration) error

	// Get is the penetration-safe pass-through read: null markers short-circuit
	// repeated backend lookups for ids that do not exist. No stampede
	// protection; concurrent misses may all invoke load.
	Get(ctx context.Context, id string, load LoaderFunc[V]) (V, bool, error)

	// GetMutex guarantees at most one concurrent backend load per id via a
	// distributed lock. Contending readers retry until LockWait elapses,
	// then fail with ErrLockTimeout.
	GetMutex(ctx context.Context, id string, load LoaderFunc[V]) (V, bool, error)

	// GetLogical never blocks a reader and never populates on miss: the
	// namespace must be pre-warmed with SetLogical. Expired entries are
	// served stale while one background refresh per id runs.
	GetLogical(ctx context.Context, id string, load LoaderFunc[V]) (V, bool, error)

	// Invalidate removes the entry; call it after updating the backing
	// entity.
	Invalidate(ctx context.Context, id string) error

	// Close stops background refresh workers (draining queued refreshes) and
	// releases the store when CloseStore is set.
	Close(ctx context.Context) error
}

// Options tune the behavior of a cache instance.
// Only Namespace, Store and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions, e.g. "shop", "voucher"
	Store     kv.Store
	Codec     codec.Codec[V]

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	TTL        time.Duration // physical TTL for Set/Get/GetMutex; 0 => 30m
	NullTTL    time.Duration // null markers; 0 => 2m (keep well below TTL)
	LogicalTTL time.Duration // logical expiry used by background refreshes; 0 => 30m

	LockTTL   time.Duration // rebuild lock TTL; 0 => 10s
	LockRetry time.Duration // GetMutex retry sleep; 0 => 50ms
	LockWait  time.Duration // GetMutex total wait deadline; 0 => 1s

	RefreshWorkers int // background refresh pool size; 0 => 10
	RefreshQueue   int // refresh queue capacity; 0 => 256 (full queue drops refreshes)

	CloseStore bool // set true only if this cache exclusively owns the store
}

// New constructs a Cache from opts.
func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
