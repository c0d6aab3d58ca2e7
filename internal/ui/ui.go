// Package ui defines the contract between the display runtime and a UI
// engine.
//
// An engine draws into buffers it is handed, hands each finished buffer to
// a FlushHandler, and expects the display's FlushReady before it reuses
// that buffer.
package ui

import "time"

// Area is an inclusive pixel rectangle.
type Area struct {
	X1, Y1, X2, Y2 int32
}

func (a Area) Width() int32  { return a.X2 - a.X1 + 1 }
func (a Area) Height() int32 { return a.Y2 - a.Y1 + 1 }

type RenderMode int

const (
	// RenderPartial renders dirty regions into small scratch buffers.
	RenderPartial RenderMode = iota
	// RenderDirect renders into full-screen buffers; every flushed buffer
	// holds a complete frame.
	RenderDirect
	// RenderFull redraws the whole screen on every refresh.
	RenderFull
)

// PointerReader is sampled by the engine's input polling.
type PointerReader interface {
	ReadPointer() (x, y int32, pressed bool)
}

// FlushHandler receives a rendered buffer. Implementations must call the
// display's FlushReady before returning.
type FlushHandler interface {
	Flush(area Area, pixels []byte)
}

// Display is one engine display.
type Display interface {
	// SetBuffers hands the engine its draw buffers.
	SetBuffers(a, b []byte, mode RenderMode) error
	SetFlushHandler(h FlushHandler)
	// FlushReady acknowledges the last Flush.
	FlushReady()
}

// Engine is the UI engine. Every method except AdvanceClock is called from
// the runtime loop goroutine.
type Engine interface {
	Init() error
	Deinit()

	// AdvanceClock moves the engine time base forward. It is the only
	// method called from another goroutine.
	AdvanceClock(ms uint32)

	// RunPeriodicTasks runs timers, input reads and redraws. It does not
	// block.
	RunPeriodicTasks()

	// Period is the default refresh period.
	Period() time.Duration

	CreatePointer(r PointerReader) error
	CreateDisplay(width, height int) (Display, error)
}

// Demo is implemented by engines that ship a built-in demo screen.
type Demo interface {
	StartDemo() error
}
