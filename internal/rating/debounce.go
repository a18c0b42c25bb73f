package rating

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Debouncer admits at most one rating write per user and product within a window
type Debouncer interface {
	// Acquire reports whether a write may proceed now
	Acquire(ctx context.Context, userID, productID string) (bool, error)
	// Release frees the slot early, used when the admitted write failed
	Release(ctx context.Context, userID, productID string) error
}

func debounceKey(userID, productID string) string {
	return fmt.Sprintf("rating:debounce:%s:%s", userID, productID)
}

type RedisDebouncer struct {
	client *redis.Client
	window time.Duration
}

func NewRedisDebouncer(client *redis.Client, window time.Duration) *RedisDebouncer {
	return &RedisDebouncer{client: client, window: window}
}

func (d *RedisDebouncer) Acquire(ctx context.Context, userID, productID string) (bool, error) {
	return d.client.SetNX(ctx, debounceKey(userID, productID), 1, d.window).Result()
}

func (d *RedisDebouncer) Release(ctx context.Context, userID, productID string) error {
	return d.client.Del(ctx, debounceKey(userID, productID)).Err()
}

const cleanupInterval = 30 * time.Second

// MemoryDebouncer keeps slots in process. Expired slots are swept in the background.
type MemoryDebouncer struct {
	mu     sync.Mutex
	window time.Duration
	until  map[string]time.Time
	now    func() time.Time

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

func NewMemoryDebouncer(window time.Duration) *MemoryDebouncer {
	return newMemoryDebouncer(window, time.Now, cleanupInterval)
}

func newMemoryDebouncer(window time.Duration, now func() time.Time, interval time.Duration) *MemoryDebouncer {
	d := &MemoryDebouncer{
		window:      window,
		until:       make(map[string]time.Time),
		now:         now,
		stopCleanup: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.cleanupLoop(interval)

	return d
}

func (d *MemoryDebouncer) cleanupLoop(interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.expire()
		case <-d.stopCleanup:
			return
		}
	}
}

func (d *MemoryDebouncer) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for key, until := range d.until {
		if !now.Before(until) {
			delete(d.until, key)
		}
	}
}

func (d *MemoryDebouncer) Acquire(_ context.Context, userID, productID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := debounceKey(userID, productID)
	now := d.now()
	if until, ok := d.until[key]; ok && now.Before(until) {
		return false, nil
	}
	d.until[key] = now.Add(d.window)
	return true, nil
}

func (d *MemoryDebouncer) Release(_ context.Context, userID, productID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.until, debounceKey(userID, productID))
	return nil
}

func (d *MemoryDebouncer) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.until)
}

// Close stops the background sweep and waits for it to finish
func (d *MemoryDebouncer) Close() error {
	close(d.stopCleanup)
	d.wg.Wait()
	return nil
}
