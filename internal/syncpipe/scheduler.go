package syncpipe

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs a callback once after a delay.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// TimerScheduler schedules callbacks on time.AfterFunc. Pending callbacks are
// dropped once its context ends.
type TimerScheduler struct {
	ctx    context.Context
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

// NewTimerScheduler creates a scheduler bound to ctx.
func NewTimerScheduler(ctx context.Context) *TimerScheduler {
	s := &TimerScheduler{ctx: ctx, timers: make(map[*time.Timer]struct{})}
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for t := range s.timers {
			t.Stop()
		}
		clear(s.timers)
	}()
	return s
}

// After runs fn in its own goroutine after d.
func (s *TimerScheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		if s.ctx.Err() != nil {
			return
		}
		fn()
	})
	s.timers[t] = struct{}{}
}

// Pending returns the number of callbacks not yet fired.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
