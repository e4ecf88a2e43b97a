// Package lock provides a non-blocking mutual-exclusion primitive across
// independent processes sharing one kv.Store.
//
// A lock is a single key "lock:<name>" holding an owner token with a TTL.
// Acquisition is SETNX; release is an atomic compare-and-delete against the
// token, so a holder whose lock already expired (and was re-acquired by
// someone else) can never delete the new holder's lock. There are no
// wait-queue semantics; callers implement their own retry/backoff.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/stampede/kv"
)

// KeyPrefix namespaces all lock keys in the shared store.
const KeyPrefix = "lock:"

// ErrNotHeld is returned by Unlock when the lock key is absent or owned by
// someone else. This is expected after a TTL expiry and usually benign, but
// it means the critical section outlived its lock.
var ErrNotHeld = errors.New("lock: not held by this owner")

// Mutex is a single-acquisition lock handle. A Mutex is bound to one owner
// token for its lifetime; create a new Mutex per acquisition attempt.
// Not safe for concurrent use of the same handle.
type Mutex struct {
	store kv.Store
	key   string
	token string
	ttl   time.Duration
}

// New creates a lock handle for the named resource. ttl bounds how long the
// lock survives a crashed holder.
func New(store kv.Store, name string, ttl time.Duration) *Mutex {
	return &Mutex{
		store: store,
		key:   KeyPrefix + name,
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// Key returns the full storage key of the lock.
func (m *Mutex) Key() string { return m.key }

// TryLock attempts a non-blocking acquisition. Returns whether the lock was
// obtained.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	return m.store.SetNX(ctx, m.key, []byte(m.token), m.ttl)
}

// Unlock releases the lock if this handle still owns it.
func (m *Mutex) Unlock(ctx context.Context) error {
	ok, err := m.store.CompareAndDelete(ctx, m.key, []byte(m.token))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}
