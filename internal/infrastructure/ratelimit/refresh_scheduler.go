package ratelimit

import (
	"sync"
	"time"
)

// RefreshScheduler coalesces bursts of refresh requests into single
// executions: requests within the debounce window collapse into one run,
// runs never start more often than minInterval apart, and while a run is in
// flight at most one follow-up is queued and re-issued afterwards.
type RefreshScheduler struct {
	debounce    time.Duration
	minInterval time.Duration
	fn          func()

	mu      sync.Mutex
	timer   *time.Timer
	lastRun time.Time
	running bool
	pending bool
	stopped bool
}

func NewRefreshScheduler(debounce, minInterval time.Duration, fn func()) *RefreshScheduler {
	return &RefreshScheduler{
		debounce:    debounce,
		minInterval: minInterval,
		fn:          fn,
	}
}

// Request asks for a refresh. Safe to call from any goroutine, any number
// of times; redundant requests are absorbed.
func (s *RefreshScheduler) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.running {
		s.pending = true
		return
	}
	if s.timer != nil {
		// A run is already scheduled inside the window.
		return
	}

	delay := s.debounce
	if since := time.Since(s.lastRun); since < s.minInterval {
		if wait := s.minInterval - since; wait > delay {
			delay = wait
		}
	}
	s.timer = time.AfterFunc(delay, s.fire)
}

func (s *RefreshScheduler) fire() {
	s.mu.Lock()
	s.timer = nil
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.lastRun = time.Now()
	s.mu.Unlock()

	s.fn()

	s.mu.Lock()
	s.running = false
	rerun := s.pending && !s.stopped
	s.pending = false
	s.mu.Unlock()

	if rerun {
		s.Request()
	}
}

// Stop cancels any scheduled run. Leaving the timer armed after the owner
// is gone would be a leak, not just a stale refresh.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
