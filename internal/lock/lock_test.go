package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func exerciseMutualExclusion(t *testing.T, l Locker, key string) {
	t.Helper()
	ctx := context.Background()

	const workers = 16
	var inside, maxInside int32
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			defer release()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("acquire: %v", err)
	}
	if maxInside != 1 {
		t.Fatalf("expected at most 1 holder, saw %d", maxInside)
	}
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewKeyedMutex(), "ride:1")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	relA, err := m.Acquire(ctx, "ride:a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer relA()

	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	relB, err := m.Acquire(ctx2, "ride:b")
	if err != nil {
		t.Fatalf("acquire b while a held: %v", err)
	}
	relB()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex()
	release, err := m.Acquire(context.Background(), "ride:1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "ride:1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}

	release()
	release() // second call is a no-op

	again, err := m.Acquire(context.Background(), "ride:1")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.locks) != 0 {
		t.Fatalf("expected no tracked keys, got %d", len(m.locks))
	}
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	addr := os.Getenv("RIDEMATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDEMATCH_TEST_REDIS_ADDR not set; skipping redis lock test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	key := "ride:test-" + time.Now().Format("150405.000000")
	exerciseMutualExclusion(t, NewRedisLocker(client, 5*time.Second), key)
}
