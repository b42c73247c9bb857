package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvanceFiresDueTickers(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	ticks, stop := clock.Tick(30 * time.Second)
	defer stop()

	clock.Advance(10 * time.Second)
	select {
	case <-ticks:
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	clock.Advance(20 * time.Second)
	select {
	case at := <-ticks:
		assert.Equal(t, clock.Now(), at)
	default:
		t.Fatal("ticker did not fire after its interval elapsed")
	}
}

func TestFakeClockStoppedTickerNeverFires(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	ticks, stop := clock.Tick(time.Second)
	stop()

	clock.Advance(time.Minute)
	select {
	case <-ticks:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestEveryRunsOnEachTick(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	s := New(clock, nil)
	defer s.Stop()

	var runs atomic.Int32
	s.Every(context.Background(), "sweep", time.Minute, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	for i := 0; i < 3; i++ {
		clock.Advance(time.Minute)
		require.Eventually(t, func() bool {
			return runs.Load() == int32(i+1)
		}, time.Second, time.Millisecond)
	}
}

func TestEveryContinuesPastErrorsAndPanics(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	s := New(clock, nil)
	defer s.Stop()

	var runs atomic.Int32
	s.Every(context.Background(), "flaky", time.Minute, func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("transient")
		case 2:
			panic("boom")
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		clock.Advance(time.Minute)
		require.Eventually(t, func() bool {
			return runs.Load() == int32(i+1)
		}, time.Second, time.Millisecond)
	}
}

func TestStopHaltsSweeps(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	s := New(clock, nil)

	var runs atomic.Int32
	s.Every(context.Background(), "sweep", time.Minute, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Stop()

	clock.Advance(5 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, runs.Load())
}
