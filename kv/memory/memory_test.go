package memory

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSetGetDel(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get on empty store = ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("Get = %q ok=%v err=%v", v, ok, err)
	}

	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("key survived Del")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	s.Set(ctx, "k", []byte("abc"), 0)
	v, _, _ := s.Get(ctx, "k")
	v[0] = 'x'

	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	s.Set(ctx, "k", []byte("v"), 20*time.Millisecond)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("value expired too early")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("value visible past its TTL")
	}
}

func TestSetNX(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", []byte("a"), 0)
	if err != nil || !ok {
		t.Fatalf("first SetNX = ok=%v err=%v", ok, err)
	}
	ok, err = s.SetNX(ctx, "k", []byte("b"), 0)
	if err != nil || ok {
		t.Fatalf("second SetNX = ok=%v err=%v", ok, err)
	}
	v, _, _ := s.Get(ctx, "k")
	if string(v) != "a" {
		t.Fatalf("losing SetNX overwrote value: %q", v)
	}
}

func TestSetNXAfterExpiry(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	s.SetNX(ctx, "k", []byte("a"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	ok, err := s.SetNX(ctx, "k", []byte("b"), 0)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry = ok=%v err=%v", ok, err)
	}
}

func TestCompareAndDelete(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	s.Set(ctx, "k", []byte("token"), 0)

	ok, err := s.CompareAndDelete(ctx, "k", []byte("other"))
	if err != nil || ok {
		t.Fatalf("mismatched CompareAndDelete = ok=%v err=%v", ok, err)
	}
	if _, present, _ := s.Get(ctx, "k"); !present {
		t.Fatal("mismatched CompareAndDelete removed the key")
	}

	ok, err = s.CompareAndDelete(ctx, "k", []byte("token"))
	if err != nil || !ok {
		t.Fatalf("matching CompareAndDelete = ok=%v err=%v", ok, err)
	}
	if _, present, _ := s.Get(ctx, "k"); present {
		t.Fatal("matching CompareAndDelete left the key")
	}

	ok, _ = s.CompareAndDelete(ctx, "k", []byte("token"))
	if ok {
		t.Fatal("CompareAndDelete on absent key reported success")
	}
}

func TestIncr(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "cnt")
		if err != nil || n != want {
			t.Fatalf("Incr = %d, %v; want %d", n, err, want)
		}
	}

	if err := s.Set(ctx, "bad", []byte("x"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Incr(ctx, "bad"); err == nil {
		t.Fatal("Incr on non-numeric value succeeded")
	}
}

func TestIncrConcurrent(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	const goroutines, perG = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				if _, err := s.Incr(ctx, "cnt"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	n, err := s.Incr(ctx, "cnt")
	if err != nil || n != goroutines*perG+1 {
		t.Fatalf("final count = %d, %v; want %d", n, err, goroutines*perG+1)
	}
}

func TestJanitorSweeps(t *testing.T) {
	s := New(5 * time.Millisecond)
	defer s.Close(context.Background())
	ctx := context.Background()

	s.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	s.mu.Lock()
	_, present := s.m["k"]
	s.mu.Unlock()
	if present {
		t.Fatal("janitor left expired entry in map")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(time.Millisecond)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
