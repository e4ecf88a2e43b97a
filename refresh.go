package stampede

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/stampede/lock"
)

// refreshJob carries one logical-expiry rebuild plus the ownership of its
// rebuild lock. The worker that runs the job releases the lock, which keeps
// "only one refresh in flight per id" true for the whole rebuild, not just
// for the scheduling window.
type refreshJob[V any] struct {
	m    *lock.Mutex
	key  string
	id   string
	load LoaderFunc[V]
}

type refreshPool[V any] struct {
	c    *cache[V]
	jobs chan refreshJob[V]
	wg   sync.WaitGroup
	once sync.Once
}

func newRefreshPool[V any](c *cache[V], workers, queue int) *refreshPool[V] {
	p := &refreshPool[V]{c: c, jobs: make(chan refreshJob[V], queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(job)
			}
		}()
	}
	return p
}

// submit is non-blocking; a full queue rejects the job so the caller can
// release the lock and report the drop.
func (p *refreshPool[V]) submit(job refreshJob[V]) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *refreshPool[V]) run(job refreshJob[V]) {
	// detached from the scheduling request; the refresh outlives it
	ctx := context.Background()
	defer func() {
		if err := job.m.Unlock(ctx); err != nil {
			p.c.log.Warn("refresh lock release", Fields{"key": job.key, "err": err})
		}
	}()

	v, found, err := job.load(ctx, job.id)
	if err != nil {
		p.c.hooks.RefreshError(job.key, err)
		p.c.log.Error("background refresh failed", Fields{"key": job.key, "err": err})
		return
	}
	if !found {
		// entity vanished from the backend; drop the stale entry so readers
		// stop serving it
		if derr := p.c.store.Del(ctx, job.key); derr != nil {
			p.c.log.Warn("stale entry delete failed", Fields{"key": job.key, "err": derr})
		}
		return
	}
	if err := p.c.SetLogical(ctx, job.id, v, p.c.logicalTTL); err != nil {
		p.c.hooks.RefreshError(job.key, err)
		p.c.log.Error("refresh rewrite failed", Fields{"key": job.key, "err": err})
	}
}

func (p *refreshPool[V]) close() {
	p.once.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}
