package redisclient

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSlotKeyStable(t *testing.T) {
	id := uuid.New()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	if SlotKey(id, at) != SlotKey(id, at.UTC()) {
		t.Fatal("key must not depend on the time zone")
	}
	if SlotKey(id, at) == SlotKey(id, at.Add(time.Hour)) {
		t.Fatal("different instants must use different keys")
	}
}

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker()
	key := SlotKey(uuid.New(), time.Now())

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- l.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := l.WithSlotLock(context.Background(), key, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}

	// released, so it can be taken again
	if err := l.WithSlotLock(context.Background(), key, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("relock: %v", err)
	}
}

func TestRedisLockerExclusive(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb, err := NewRedisClient(context.Background(), ClientOptions{
		Addr:     addr,
		Username: os.Getenv("REDIS_USERNAME"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	l := NewRedisSlotLocker(rdb, 2*time.Second)
	key := SlotKey(uuid.New(), time.Now())

	const n = 8
	var wg sync.WaitGroup
	var inside, refused int32
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := l.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
				atomic.AddInt32(&inside, 1)
				time.Sleep(200 * time.Millisecond)
				return nil
			})
			if errors.Is(err, ErrLockNotAcquired) {
				atomic.AddInt32(&refused, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if inside < 1 || inside+refused != n {
		t.Errorf("inside=%d refused=%d", inside, refused)
	}
}
