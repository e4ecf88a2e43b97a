// Package memory provides an in-process kv.Store backed by a mutex-guarded
// map. Conditional operations are linearizable within one process, which
// makes it a faithful stand-in for Redis in tests and single-node setups.
// It gives no cross-process guarantees.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/stampede/kv"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type Store struct {
	mu sync.Mutex
	m  map[string]entry

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ kv.Store = (*Store)(nil)

// New creates a memory store. sweepInterval > 0 starts a janitor goroutine
// that prunes expired entries; lazy expiry on read happens regardless.
func New(sweepInterval time.Duration) *Store {
	s := &Store{m: make(map[string]entry)}
	if sweepInterval > 0 {
		s.ticker = time.NewTicker(sweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.sweep()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

// get implements lazy expiry; callers must hold s.mu.
func (s *Store) get(key string) ([]byte, bool) {
	e, ok := s.m[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(s.m, key)
		return nil, false
	}
	return e.v, true
}

func expiry(ttl time.Duration) time.Time {
	if ttl > 0 {
		return time.Now().Add(ttl)
	}
	return time.Time{}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	s.m[key] = entry{v: cp, exp: expiry(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(key); ok {
		return false, nil
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.m[key] = entry{v: cp, exp: expiry(ttl)}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if v, ok := s.get(key); ok {
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	e := s.m[key] // keep existing expiry, if any
	e.v = []byte(strconv.FormatInt(n, 10))
	s.m[key] = e
	return n, nil
}

func (s *Store) CompareAndDelete(_ context.Context, key string, expect []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(key)
	if !ok || string(v) != string(expect) {
		return false, nil
	}
	delete(s.m, key)
	return true, nil
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	for k, e := range s.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}

func (s *Store) Close(context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}
