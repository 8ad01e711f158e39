package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	s := New(time.Minute)

	if _, ok := s.Get("missing"); ok {
		t.Error("Get on empty store should miss")
	}

	s.Set("k", []byte("v"))
	data, ok := s.Get("k")
	if !ok || string(data) != "v" {
		t.Errorf("Get = %q, %v; want v, true", data, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestEntriesExpire(t *testing.T) {
	s := New(time.Minute)

	now := time.Now()
	s.now = func() time.Time { return now }

	s.Set("k", []byte("v"))
	if _, ok := s.Get("k"); !ok {
		t.Fatal("entry should be fresh")
	}

	now = now.Add(61 * time.Second)
	if _, ok := s.Get("k"); ok {
		t.Error("entry should have expired")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0 after lazy removal", s.Len())
	}
}

func TestSetResetsTTL(t *testing.T) {
	s := New(time.Minute)

	now := time.Now()
	s.now = func() time.Time { return now }

	s.Set("k", []byte("v1"))
	now = now.Add(50 * time.Second)
	s.Set("k", []byte("v2"))
	now = now.Add(50 * time.Second)

	data, ok := s.Get("k")
	if !ok || string(data) != "v2" {
		t.Errorf("Get = %q, %v; refresh should reset the TTL clock", data, ok)
	}
}

func TestGetOrFetchCoalesces(t *testing.T) {
	s := New(time.Minute)

	var fetches atomic.Int32
	release := make(chan struct{})

	fetch := func(ctx context.Context) ([]byte, error) {
		fetches.Add(1)
		<-release
		return []byte("result"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := s.GetOrFetch(context.Background(), "k", fetch)
			if err != nil {
				t.Errorf("GetOrFetch: %v", err)
			}
			results[i] = data
		}(i)
	}

	// Let every goroutine reach the flight before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1 (concurrent misses must coalesce)", n)
	}
	for i, data := range results {
		if string(data) != "result" {
			t.Errorf("caller %d got %q", i, data)
		}
	}
}

func TestGetOrFetchDoesNotCacheFailures(t *testing.T) {
	s := New(time.Minute)

	var fetches atomic.Int32
	boom := errors.New("boom")

	_, err := s.GetOrFetch(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		fetches.Add(1)
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if s.Len() != 0 {
		t.Error("failure must not be stored")
	}

	data, err := s.GetOrFetch(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		fetches.Add(1)
		return []byte("ok"), nil
	})
	if err != nil || string(data) != "ok" {
		t.Errorf("second fetch = %q, %v", data, err)
	}
	if n := fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2 (the failed result must not be replayed)", n)
	}
}

func TestCoalesceDoesNotStore(t *testing.T) {
	s := New(time.Minute)

	data, err := s.Coalesce(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("transient"), nil
	})
	if err != nil || string(data) != "transient" {
		t.Fatalf("Coalesce = %q, %v", data, err)
	}
	if _, ok := s.Get("k"); ok {
		t.Error("Coalesce must not populate the store")
	}
}

func TestDisabledStorePassesThrough(t *testing.T) {
	s := Disabled()

	var fetches atomic.Int32
	fetch := func(ctx context.Context) ([]byte, error) {
		fetches.Add(1)
		return []byte("fresh"), nil
	}

	for i := 0; i < 3; i++ {
		data, err := s.GetOrFetch(context.Background(), "k", fetch)
		if err != nil || string(data) != "fresh" {
			t.Fatalf("GetOrFetch = %q, %v", data, err)
		}
	}
	if n := fetches.Load(); n != 3 {
		t.Errorf("fetches = %d, want 3 (disabled store must not cache)", n)
	}

	s.Set("k", []byte("ignored"))
	if _, ok := s.Get("k"); ok {
		t.Error("disabled store must not serve entries")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}
