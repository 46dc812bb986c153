package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_RunsOnInterval(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner(Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if n := runs.Load(); n < 2 {
		t.Errorf("job ran %d times, want at least 2", n)
	}
}

func TestRunner_NoImmediateRun(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner(Job{
		Name:     "slow",
		Interval: time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if n := runs.Load(); n != 0 {
		t.Errorf("job ran %d times before its first interval", n)
	}
}

func TestRunner_FailuresDoNotStopTheJob(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner(Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return fmt.Errorf("transient failure")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if n := runs.Load(); n < 2 {
		t.Errorf("failing job ran %d times, want retries on later ticks", n)
	}
}

func TestRunner_DropsNonPositiveIntervals(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner(Job{
		Name:     "disabled",
		Interval: 0,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if n := runs.Load(); n != 0 {
		t.Errorf("dropped job ran %d times", n)
	}
}

func TestRunner_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(Job{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run:      func(context.Context) error { return nil },
	})

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
