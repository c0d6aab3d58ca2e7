// Package runloop owns the display runtime: it brings up the plane, the
// input bridge and the UI engine in order, services them from one goroutine,
// and tears them down in reverse when its context is canceled.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyrange/planeui/internal/display"
	"github.com/tinyrange/planeui/internal/input"
	"github.com/tinyrange/planeui/internal/plane"
	"github.com/tinyrange/planeui/internal/tick"
	"github.com/tinyrange/planeui/internal/timeslice"
	"github.com/tinyrange/planeui/internal/ui"
)

var (
	PhaseWait     = timeslice.RegisterPhase("wait")
	PhaseDispatch = timeslice.RegisterPhase("dispatch")
	PhaseTasks    = timeslice.RegisterPhase("tasks")
)

// Teardown stages in the order Shutdown runs them.
const (
	StageUI    = "ui"
	StageInput = "input"
	StagePlane = "plane"
	StageTick  = "tick"
)

// InputOpener opens the touch source. Returning an error leaves the runtime
// without input.
type InputOpener func() (input.Source, error)

// Deps are the backends the runtime drives.
type Deps struct {
	Planes    plane.Library
	OpenInput InputOpener
	Engine    ui.Engine
}

type Options struct {
	Device string
	Plane  plane.Spec
	// X and Y position the plane on the output.
	X, Y int

	TickInterval  time.Duration
	TickIncrement uint32

	// Period bounds each wait for input. Zero uses the engine's period.
	Period time.Duration

	// Demo starts the engine's built-in demo screen if it has one.
	Demo bool

	Trace *timeslice.Trace
}

// Waiter blocks until fd is readable or timeout elapses. fd is negative
// when there is no input source. An interrupted wait reports not ready.
type Waiter func(fd int, timeout time.Duration) (ready bool, err error)

type Runtime struct {
	deps Deps
	opts Options
	wait Waiter

	planes  *plane.Manager
	bridge  *input.Bridge
	ticker  *tick.Generator
	adapter *display.Adapter
	display ui.Display
	pointer *input.Pointer

	engineUp bool
	started  bool

	// onTeardown observes each stage Shutdown runs.
	onTeardown func(stage string)
}

func New(deps Deps, opts Options) *Runtime {
	return &Runtime{
		deps:    deps,
		opts:    opts,
		wait:    PollWait,
		pointer: &input.Pointer{},
	}
}

// SetWaiter replaces PollWait.
func (r *Runtime) SetWaiter(w Waiter) { r.wait = w }

// Pointer is the state the engine samples. It outlives Shutdown.
func (r *Runtime) Pointer() *input.Pointer { return r.pointer }

func (r *Runtime) Adapter() *display.Adapter { return r.adapter }

// Start acquires every resource in order. On failure whatever was already
// acquired is released before the error is returned.
func (r *Runtime) Start() error {
	if r.started {
		return errors.New("runloop: already started")
	}
	if r.deps.Planes == nil || r.deps.Engine == nil {
		return errors.New("runloop: missing plane library or engine")
	}
	if err := r.start(); err != nil {
		r.Shutdown()
		return err
	}
	r.started = true
	return nil
}

func (r *Runtime) start() error {
	r.planes = plane.NewManager(r.deps.Planes)
	if err := r.planes.Init(r.opts.Device, r.opts.Plane); err != nil {
		return err
	}
	slog.Info("runloop: plane ready",
		"device", r.opts.Device, "type", r.opts.Plane.Type, "format", r.opts.Plane.Format,
		"width", r.opts.Plane.Width, "height", r.opts.Plane.Height)

	r.bridge = input.NewBridge(r.openInput(), r.pointer)

	engine := r.deps.Engine
	if err := engine.Init(); err != nil {
		return fmt.Errorf("runloop: engine init: %w", err)
	}
	r.engineUp = true

	ticker := tick.New(engine, r.opts.TickInterval, r.opts.TickIncrement)
	if err := ticker.Start(); err != nil {
		return err
	}
	r.ticker = ticker

	if err := engine.CreatePointer(r.bridge.Pointer()); err != nil {
		return fmt.Errorf("runloop: create pointer: %w", err)
	}
	disp, err := engine.CreateDisplay(r.opts.Plane.Width, r.opts.Plane.Height)
	if err != nil {
		return fmt.Errorf("runloop: create display: %w", err)
	}
	r.display = disp

	bufs := r.planes.Buffers()
	var second []byte
	if len(bufs) > 1 {
		second = bufs[1]
	}
	if err := disp.SetBuffers(bufs[0], second, ui.RenderDirect); err != nil {
		return fmt.Errorf("runloop: set buffers: %w", err)
	}
	r.adapter = display.NewAdapter(r.planes, disp)
	r.adapter.SetTrace(r.opts.Trace)
	disp.SetFlushHandler(r.adapter)

	if r.opts.Demo {
		if demo, ok := engine.(ui.Demo); ok {
			if err := demo.StartDemo(); err != nil {
				slog.Warn("runloop: demo not started", "error", err)
			}
		}
	}

	r.planes.SetPosition(r.opts.X, r.opts.Y)
	if err := r.planes.Commit(); err != nil {
		return fmt.Errorf("runloop: initial commit: %w", err)
	}
	return nil
}

func (r *Runtime) openInput() input.Source {
	if r.deps.OpenInput == nil {
		slog.Info("runloop: running without input")
		return nil
	}
	src, err := r.deps.OpenInput()
	if err != nil {
		if !errors.Is(err, input.ErrInputInit) {
			err = fmt.Errorf("%w: %w", input.ErrInputInit, err)
		}
		slog.Warn("runloop: touch input unavailable, continuing display only", "error", err)
		return nil
	}
	return src
}

func (r *Runtime) period() time.Duration {
	if r.opts.Period > 0 {
		return r.opts.Period
	}
	if p := r.deps.Engine.Period(); p > 0 {
		return p
	}
	return 33 * time.Millisecond
}

// Run services input and the engine until ctx is canceled, then shuts down
// and returns ctx's error. Cancellation is observed after each bounded wait.
func (r *Runtime) Run(ctx context.Context) error {
	if !r.started {
		return errors.New("runloop: not started")
	}
	defer r.Shutdown()

	period := r.period()
	trace := r.opts.Trace
	sw := trace.Stopwatch()
	slog.Info("runloop: running", "period", period)

	for {
		trace.NextIteration()
		sw.Reset()

		ready, err := r.wait(r.bridge.Fd(), period)
		sw.Lap(PhaseWait)
		if err != nil {
			return fmt.Errorf("runloop: wait for input: %w", err)
		}
		if err := ctx.Err(); err != nil {
			slog.Info("runloop: terminating", "cause", context.Cause(ctx))
			return err
		}

		if ready {
			if _, err := r.bridge.Dispatch(); err != nil {
				slog.Warn("runloop: input dispatch failed", "error", err)
			}
			sw.Lap(PhaseDispatch)
		}

		r.deps.Engine.RunPeriodicTasks()
		sw.Lap(PhaseTasks)
	}
}

// Shutdown releases the engine, the input bridge, the plane and the device,
// and finally the tick generator. Stages whose resources were never
// acquired are skipped, so Shutdown may be called more than once.
func (r *Runtime) Shutdown() {
	if r.engineUp {
		r.deps.Engine.Deinit()
		r.engineUp = false
		r.display = nil
		r.teardown(StageUI)
	}
	if r.bridge != nil {
		r.bridge.Close()
		r.bridge = nil
		r.teardown(StageInput)
	}
	if r.planes != nil {
		r.planes.Close()
		r.planes = nil
		r.teardown(StagePlane)
	}
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
		r.teardown(StageTick)
	}
	r.started = false
}

func (r *Runtime) teardown(stage string) {
	slog.Debug("runloop: teardown", "stage", stage)
	if r.onTeardown != nil {
		r.onTeardown(stage)
	}
}
