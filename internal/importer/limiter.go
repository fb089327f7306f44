package importer

// limiter.go implements concurrency control for preview generation.
//
// Preview generation materializes the whole row batch and fans out entity
// lookups, so unbounded parallelism can exhaust the database pool. The
// limiter uses a semaphore to restrict parallel generations to a
// configurable maximum; when all slots are occupied, new requests wait up
// to maxWait before failing with ErrTooManyPreviews.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentPreviews is the default limit for parallel preview
// generations.
const DefaultMaxConcurrentPreviews = 4

// DefaultPreviewMaxWait is how long to wait for a slot before rejecting.
const DefaultPreviewMaxWait = 15 * time.Second

// PreviewLimiter controls concurrent preview generation using a semaphore.
type PreviewLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewPreviewLimiter creates a limiter allowing at most maxConcurrent
// simultaneous generations. Requests that cannot acquire a slot within
// maxWait receive ErrTooManyPreviews.
func NewPreviewLimiter(maxConcurrent int, maxWait time.Duration) *PreviewLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentPreviews
	}
	if maxWait <= 0 {
		maxWait = DefaultPreviewMaxWait
	}
	return &PreviewLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire attempts to acquire a generation slot. Returns nil on success,
// ErrTooManyPreviews if the wait timeout expires. The caller MUST call
// Release when generation completes (use defer).
func (l *PreviewLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyPreviews

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a previously acquired slot. Must be called exactly once
// for each successful Acquire.
func (l *PreviewLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of generations currently running.
func (l *PreviewLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all active generations complete or the context
// is cancelled. Used for graceful shutdown.
func (l *PreviewLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}
