// Package stampede implements a cache-aside engine that survives the failure
// modes of hot keys on a shared remote store: penetration (repeated lookups
// for keys that do not exist), stampede (many callers rebuilding the same key
// at once), and breakdown of a single hot key at expiry.
//
// Three read strategies are offered per cache instance:
//   - Get: pass-through with null-marker caching (penetration guard).
//   - GetMutex: at most one concurrent loader per key, enforced by a
//     distributed SETNX lock; other readers retry under a bounded deadline.
//   - GetLogical: entries carry an embedded logical expiry and no physical
//     TTL; stale reads return immediately while a bounded worker pool
//     refreshes in the background.
//
// Components:
//   - kv.Store: minimal byte store with TTLs and atomic conditional ops
//     (Redis in production, in-process map for tests/dev).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - lock.Mutex: owner-token mutual exclusion across processes.
//
// Keys:
//
//	cache:<ns>:<id>  - data entries (physical- or logical-expiry kind)
//	lock:<ns>:<id>   - rebuild locks (same discipline as the lock package)
//
// The two expiry kinds are mutually exclusive per namespace: a namespace
// written with SetLogical must be read with GetLogical, and vice versa.
//
// The sibling packages idgen and seckill build on the same kv.Store to
// provide time-ordered unique IDs and an exactly-once-effective flash-sale
// pipeline. See their package docs.
package stampede
