package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bsm/redislock"
)

type keyed struct {
	id  string
	val int
}

func (k keyed) Key() string { return k.id }

func TestDedupe(t *testing.T) {
	tests := []struct {
		name string
		in   []keyed
		want []keyed
	}{
		{"empty", nil, nil},
		{"single", []keyed{{"a", 1}}, []keyed{{"a", 1}}},
		{"no duplicates", []keyed{{"a", 1}, {"b", 2}}, []keyed{{"a", 1}, {"b", 2}}},
		{"last wins", []keyed{{"a", 1}, {"b", 2}, {"a", 3}}, []keyed{{"a", 3}, {"b", 2}}},
		{"all same key", []keyed{{"x", 1}, {"x", 2}, {"x", 3}}, []keyed{{"x", 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Dedupe(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Dedupe() returned %d rows, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("row %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestKeyedMutexSerializesSamePeriod(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "2024-01")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
	if len(km.locks) != 0 {
		t.Errorf("expected lock table to be empty after release, got %d entries", len(km.locks))
	}
}

func TestKeyedMutexIndependentPeriods(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := km.Lock(ctx, "2024-01")
	if err != nil {
		t.Fatalf("Lock(2024-01) error = %v", err)
	}
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := km.Lock(ctx, "2024-02")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different period blocked")
	}
}

func TestKeyedMutexContextCancel(t *testing.T) {
	km := NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "2024-01")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := km.Lock(ctx, "2024-01"); err != context.DeadlineExceeded {
		t.Errorf("Lock() error = %v, want %v", err, context.DeadlineExceeded)
	}

	unlock()
	unlock()

	again, err := km.Lock(context.Background(), "2024-01")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	again()
}

type fakeLock struct {
	refreshes atomic.Int32
	releases  atomic.Int32
	ttl       atomic.Int64
}

func (f *fakeLock) Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error {
	f.ttl.Store(int64(ttl))
	f.refreshes.Add(1)
	return nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.releases.Add(1)
	return nil
}

func TestKeepAliveRefreshesUntilReleased(t *testing.T) {
	lock := &fakeLock{}
	release := keepAlive(lock, 30*time.Millisecond, 10*time.Millisecond)

	// The run outlives the ttl several times over.
	time.Sleep(100 * time.Millisecond)
	if got := lock.refreshes.Load(); got < 3 {
		t.Errorf("refreshes while held = %d, want at least 3", got)
	}
	if got := time.Duration(lock.ttl.Load()); got != 30*time.Millisecond {
		t.Errorf("refresh ttl = %s, want 30ms", got)
	}

	release()
	release()
	after := lock.refreshes.Load()
	time.Sleep(40 * time.Millisecond)
	if got := lock.refreshes.Load(); got != after {
		t.Errorf("refreshes after release = %d, want %d", got, after)
	}
	if got := lock.releases.Load(); got != 1 {
		t.Errorf("releases = %d, want 1", got)
	}
}
