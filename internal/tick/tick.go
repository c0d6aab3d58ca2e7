// Package tick advances the UI engine clock from a background goroutine.
//
// The generator is decoupled from the runtime loop so that animation speed
// does not depend on how long rendering or input handling takes.
package tick

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var ErrTimerStart = errors.New("tick: timer start failed")

// Clock is advanced by exactly one Generator.
type Clock interface {
	AdvanceClock(ms uint32)
}

// Generator calls Clock.AdvanceClock(Increment) then sleeps Interval, for
// as long as it is running.
type Generator struct {
	clock     Clock
	interval  time.Duration
	increment uint32

	// sleep is time.Sleep outside of tests.
	sleep func(time.Duration)

	mu      sync.Mutex
	running atomic.Bool
	done    chan struct{}
}

// New returns an idle generator. An interval of 1ms with an increment of 1
// matches a millisecond UI clock.
func New(clock Clock, interval time.Duration, increment uint32) *Generator {
	return &Generator{
		clock:     clock,
		interval:  interval,
		increment: increment,
		sleep:     time.Sleep,
	}
}

// Start spawns the background goroutine. It is a no-op while running.
func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running.Load() {
		return nil
	}
	if g.clock == nil {
		return fmt.Errorf("%w: no clock", ErrTimerStart)
	}
	if g.interval <= 0 || g.increment == 0 {
		return fmt.Errorf("%w: interval %s increment %d", ErrTimerStart, g.interval, g.increment)
	}

	done := make(chan struct{})
	g.done = done
	g.running.Store(true)
	go g.run(done)
	return nil
}

func (g *Generator) run(done chan struct{}) {
	defer close(done)

	for g.running.Load() {
		g.clock.AdvanceClock(g.increment)
		g.sleep(g.interval)
	}
}

// Stop clears the running flag and waits for the goroutine to exit. Once
// Stop returns the clock is not advanced again. It is a no-op while idle.
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running.Load() {
		return
	}
	g.running.Store(false)
	<-g.done
	g.done = nil
}

func (g *Generator) Running() bool {
	return g.running.Load()
}
