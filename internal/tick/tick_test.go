package tick

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type counterClock struct {
	ms    atomic.Uint64
	calls atomic.Uint64
}

func (c *counterClock) AdvanceClock(ms uint32) {
	c.ms.Add(uint64(ms))
	c.calls.Add(1)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStopHaltsClock(t *testing.T) {
	clock := &counterClock{}
	g := New(clock, time.Millisecond, 1)

	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "clock to advance", func() bool { return clock.ms.Load() >= 5 })

	g.Stop()
	if g.Running() {
		t.Fatalf("generator still running after Stop")
	}

	before := clock.ms.Load()
	time.Sleep(20 * time.Millisecond)
	if after := clock.ms.Load(); after != before {
		t.Fatalf("clock advanced after Stop: %d -> %d", before, after)
	}
}

func TestDoubleStartSpawnsOneGoroutine(t *testing.T) {
	clock := &counterClock{}
	g := New(clock, time.Millisecond, 1)

	var sleepers atomic.Int32
	release := make(chan struct{})
	g.sleep = func(time.Duration) {
		sleepers.Add(1)
		<-release
	}

	if err := g.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	waitFor(t, "first advance", func() bool { return clock.calls.Load() == 1 })
	time.Sleep(10 * time.Millisecond)

	if n := clock.calls.Load(); n != 1 {
		t.Fatalf("expected exactly one advance while blocked, got %d", n)
	}
	if n := sleepers.Load(); n != 1 {
		t.Fatalf("expected one sleeping generator, got %d", n)
	}

	stopped := make(chan struct{})
	go func() {
		g.Stop()
		close(stopped)
	}()
	waitFor(t, "running flag to clear", func() bool { return !g.Running() })
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return")
	}
}

func TestRestartAfterStop(t *testing.T) {
	clock := &counterClock{}
	g := New(clock, time.Millisecond, 2)

	for round := 0; round < 2; round++ {
		start := clock.ms.Load()
		if err := g.Start(); err != nil {
			t.Fatalf("round %d Start: %v", round, err)
		}
		waitFor(t, "clock to advance", func() bool { return clock.ms.Load() > start })
		g.Stop()
	}
	if clock.ms.Load()%2 != 0 {
		t.Fatalf("clock advanced by something other than the increment: %d", clock.ms.Load())
	}
}

func TestStopWhileIdle(t *testing.T) {
	g := New(&counterClock{}, time.Millisecond, 1)
	g.Stop()
	g.Stop()
}

func TestStartRejectsBadConfiguration(t *testing.T) {
	for _, tc := range []struct {
		name string
		g    *Generator
	}{
		{"nil clock", New(nil, time.Millisecond, 1)},
		{"zero interval", New(&counterClock{}, 0, 1)},
		{"zero increment", New(&counterClock{}, time.Millisecond, 0)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.g.Start(); !errors.Is(err, ErrTimerStart) {
				t.Fatalf("expected ErrTimerStart, got %v", err)
			}
			if tc.g.Running() {
				t.Fatalf("generator running after failed Start")
			}
		})
	}
}
