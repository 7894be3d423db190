package memory

import (
	"context"
	"sync"
	"time"

	"storefront-api/internal/clock"
	"storefront-api/internal/repository"
)

var _ repository.AttemptCounter = (*AttemptCounter)(nil)

type counter struct {
	count     int
	expiresAt time.Time
}

// AttemptCounter is a fixed-window counter, matching INCR plus EXPIRE on first hit.
type AttemptCounter struct {
	mu       sync.Mutex
	clock    clock.Clock
	counters map[string]counter
}

func NewAttemptCounter(c clock.Clock) *AttemptCounter {
	return &AttemptCounter{clock: c, counters: make(map[string]counter)}
}

func (a *AttemptCounter) Increment(_ context.Context, key string, window time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	c, ok := a.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = counter{expiresAt: now.Add(window)}
	}
	c.count++
	a.counters[key] = c
	return c.count, nil
}

func (a *AttemptCounter) Count(_ context.Context, key string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.counters[key]
	if !ok || !a.clock.Now().Before(c.expiresAt) {
		return 0, nil
	}
	return c.count, nil
}

func (a *AttemptCounter) Reset(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counters, key)
	return nil
}
