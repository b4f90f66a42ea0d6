package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"coin-exchange/internal/logging"
)

// Ticker runs one market iteration.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Scheduler drives a Ticker at a fixed interval on a single goroutine.
type Scheduler struct {
	ticker   Ticker
	interval time.Duration
	backoff  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	iterations atomic.Uint64
	failures   atomic.Uint64
}

// NewScheduler creates a stopped scheduler. A failed iteration is followed by
// backoff before the next wait.
func NewScheduler(ticker Ticker, interval, backoff time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if backoff < 0 {
		backoff = 0
	}
	return &Scheduler{
		ticker:   ticker,
		interval: interval,
		backoff:  backoff,
		logger:   logging.WithComponent(logger, "scheduler"),
	}
}

// Start launches the loop. It returns false if the loop was already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, s.stop, s.done)

	s.logger.Info().Dur("interval", s.interval).Msg("Market updates started")
	return true
}

// Stop ends the loop and waits for an in-flight iteration to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info().Uint64("iterations", s.iterations.Load()).Msg("Market updates stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Iterations returns the number of completed iterations, failed ones included.
func (s *Scheduler) Iterations() uint64 {
	return s.iterations.Load()
}

// Failures returns the number of iterations that returned an error or panicked.
func (s *Scheduler) Failures() uint64 {
	return s.failures.Load()
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-timer.C:
		}

		err := s.runOnce(ctx)
		s.iterations.Add(1)

		wait := s.interval
		if err != nil {
			s.failures.Add(1)
			s.logger.Error().Err(err).Dur("backoff", s.backoff).Msg("Market update failed")
			wait += s.backoff
		}
		timer.Reset(wait)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("market update panicked: %v", r)
		}
	}()
	return s.ticker.Tick(ctx)
}
