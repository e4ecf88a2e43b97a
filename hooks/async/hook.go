// Package asynchook decouples hook sinks from cache hot paths: events are
// dispatched to a bounded queue served by a fixed set of workers, and dropped
// when the queue is full.
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/stampede"
)

type Hooks struct {
	inner stampede.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ stampede.Hooks = (*Hooks)(nil)

func New(inner stampede.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) NullStored(k string)       { h.try(func() { h.inner.NullStored(k) }) }
func (h *Hooks) LockContention(k string)   { h.try(func() { h.inner.LockContention(k) }) }
func (h *Hooks) RefreshScheduled(k string) { h.try(func() { h.inner.RefreshScheduled(k) }) }
func (h *Hooks) RefreshDropped(k string)   { h.try(func() { h.inner.RefreshDropped(k) }) }
func (h *Hooks) RefreshError(k string, err error) {
	h.try(func() { h.inner.RefreshError(k, err) })
}
func (h *Hooks) SelfHeal(k, reason string) { h.try(func() { h.inner.SelfHeal(k, reason) }) }
