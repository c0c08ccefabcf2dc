package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"dormarket/internal/domain/repository"
	"dormarket/pkg/logger"
)

// SubscribeFunc opens one realtime subscription attempt.
type SubscribeFunc func(ctx context.Context) (repository.Subscription, error)

type Options struct {
	// MaxRetries caps how often an open is re-attempted before the
	// subscription is left failed. No infinite retry.
	MaxRetries uint64
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
	// PollInterval drives degraded-mode polling once the breaker opens.
	// Zero disables polling.
	PollInterval time.Duration
}

// Subscriber owns the lifecycle of one realtime subscription: capped
// retries on open, and an explicit degraded mode that falls back to
// interval polling after consecutive failures trip the breaker. A failed
// subscription never blocks fetching or sending, only push delivery.
type Subscriber struct {
	opts    Options
	breaker *gobreaker.CircuitBreaker

	mu         sync.Mutex
	sub        repository.Subscription
	pollCancel context.CancelFunc
}

func NewSubscriber(opts Options) *Subscriber {
	return &Subscriber{
		opts: opts,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "realtime-subscribe",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			Timeout: 30 * time.Second,
		}),
	}
}

// Start opens the subscription, retrying on failure. When every attempt
// fails (or the breaker is already open), poll takes over on a fixed
// interval until Stop. The returned error reports the subscribe outcome;
// callers keep working either way.
func (s *Subscriber) Start(ctx context.Context, subscribe SubscribeFunc, poll func()) error {
	s.Stop()

	attempt := func() error {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			sub, err := subscribe(ctx)
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			s.sub = sub
			s.mu.Unlock()
			return nil, nil
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// Known-bad: skip the remaining retries.
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.Backoff), s.opts.MaxRetries)
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		logger.Warn("Realtime subscription failed after retries: %v", err)
		s.startPolling(ctx, poll)
		return err
	}

	return nil
}

func (s *Subscriber) startPolling(ctx context.Context, poll func()) {
	if poll == nil || s.opts.PollInterval <= 0 {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.pollCancel = cancel
	s.mu.Unlock()

	logger.Warn("Entering degraded mode: polling every %s", s.opts.PollInterval)
	go func() {
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				poll()
			case <-pollCtx.Done():
				return
			}
		}
	}()
}

// Stop closes the live subscription and halts degraded-mode polling. Must
// run before a new Start: at most one live subscription at a time.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	cancel := s.pollCancel
	s.pollCancel = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if cancel != nil {
		cancel()
	}
}
