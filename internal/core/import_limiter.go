package core

// import_limiter.go bounds how many import commits run at once. A commit
// holds a slot for its whole bulk insert; when every slot is taken new
// commits wait up to maxWait and then fail with ErrTooManyImports.
// WaitForDrain lets shutdown wait for running commits.

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultMaxConcurrentImports = 4
	DefaultImportWaitTime       = 15 * time.Second
)

// ImportLimiter is a counting semaphore over import commits.
type ImportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
	drain  *sync.Cond
}

// NewImportLimiter allows at most maxConcurrent commits, each waiting at most
// maxWait for a slot. Non-positive arguments select the defaults.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultImportWaitTime
	}
	l := &ImportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
	l.drain = sync.NewCond(&l.mu)
	return l
}

// Acquire takes a slot. The caller must Release it when done.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-timer.C:
		return ErrTooManyImports
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot only if one is free.
func (l *ImportLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *ImportLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		l.drain.Broadcast()
	}
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of running commits.
func (l *ImportLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until no commit is running or ctx ends.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		for l.active > 0 && ctx.Err() == nil {
			l.drain.Wait()
		}
		l.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// wake the waiter so it observes ctx.Err and exits
		l.mu.Lock()
		l.drain.Broadcast()
		l.mu.Unlock()
		return ctx.Err()
	}
}

// ImportLimiterStatus is the limiter's state for health output.
type ImportLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

func (l *ImportLimiter) Status() ImportLimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return ImportLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
