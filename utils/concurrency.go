package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool manages a bounded pool of goroutines with optional pacing of
// job starts.
type WorkerPool struct {
	maxWorkers int
	limiter    *rate.Limiter
	semaphore  chan struct{}
	wg         sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency. A zero
// interval disables pacing; otherwise consecutive job starts are at least
// interval apart.
func NewWorkerPool(maxWorkers int, interval time.Duration) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	var limiter *rate.Limiter
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		limiter:    limiter,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job for execution in the pool. It blocks while all
// workers are busy. Jobs submitted after ctx is done are not started.
func (wp *WorkerPool) Submit(ctx context.Context, job func(ctx context.Context)) {
	if ctx.Err() != nil {
		return
	}
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return
	}
	wp.wg.Add(1)

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		if wp.limiter != nil {
			if err := wp.limiter.Wait(ctx); err != nil {
				return
			}
		}
		job(ctx)
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Size returns the configured concurrency.
func (wp *WorkerPool) Size() int {
	return wp.maxWorkers
}

// KeySet is a thread-safe set for tracking seen keys.
type KeySet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[string]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains returns true if the key has already been seen.
func (s *KeySet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[key]
	return exists
}

// Size returns the number of unique keys tracked.
func (s *KeySet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
