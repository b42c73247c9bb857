// Package scheduler provides the periodic-sweep primitive used by the
// extraction pipeline and the tiered store: a ticker bound to a cancellation
// context, driven through a Clock interface so tests can advance a virtual
// clock instead of waiting on wall-clock timers.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Clock abstracts time for schedulable work.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Tick returns a channel delivering ticks at the given interval.
	// The returned stop function releases the ticker's resources.
	Tick(interval time.Duration) (<-chan time.Time, func())
}

// RealClock is the production Clock backed by the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Tick(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// FakeClock is a manually advanced Clock for tests.
//
// Advance moves the virtual time forward and fires one tick on every ticker
// whose interval has elapsed since its last fire.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	interval time.Duration
	lastFire time.Time
	ch       chan time.Time
	stopped  bool
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Tick(interval time.Duration) (<-chan time.Time, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTicker{
		interval: interval,
		lastFire: c.now,
		ch:       make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, t)

	stop := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		t.stopped = true
	}
	return t.ch, stop
}

// Advance moves the virtual clock forward by d, firing due tickers.
// A ticker fires at most once per Advance call, matching the coalescing
// behavior of time.Ticker under a slow receiver.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		if t.stopped {
			continue
		}
		if c.now.Sub(t.lastFire) >= t.interval {
			t.lastFire = c.now
			select {
			case t.ch <- c.now:
			default:
			}
		}
	}
}

// Scheduler runs named periodic jobs as independent goroutines. Jobs are
// isolated from the request-serving path and from each other: a panic or
// error in one sweep is logged and does not affect the others.
type Scheduler struct {
	clock  Clock
	logger *logrus.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler. A nil clock defaults to the real clock; a nil
// logger defaults to the standard logrus logger.
func New(clock Clock, logger *logrus.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{clock: clock, logger: logger}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() Clock { return s.clock }

// Every schedules fn to run once per interval until the scheduler stops or
// ctx is cancelled. Errors returned by fn are logged and the schedule
// continues; a panicking sweep is recovered and logged the same way.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	ticks, stop := s.clock.Tick(interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				s.runOnce(ctx, name, fn)
			}
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("sweep", name).Errorf("sweep panicked: %v", r)
		}
	}()
	if err := fn(ctx); err != nil {
		s.logger.WithField("sweep", name).Warnf("sweep failed: %v", err)
	}
}

// Stop cancels all scheduled jobs and waits for in-flight sweeps to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	s.mu.Unlock()
	s.wg.Wait()
}
