// Package input folds touch events into a single pointer state that the UI
// engine samples.
//
// Only the latest position and pressed flag are kept. There is no event
// queue between the device and the engine: the engine polls current state.
package input

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var ErrInputInit = errors.New("input: initialization failed")

type EventType int

const (
	EventOther EventType = iota
	EventTouchDown
	EventTouchMotion
	EventTouchUp
)

func (t EventType) String() string {
	switch t {
	case EventTouchDown:
		return "touch-down"
	case EventTouchMotion:
		return "touch-motion"
	case EventTouchUp:
		return "touch-up"
	default:
		return "other"
	}
}

// Event is one raw device event. Position is only meaningful for
// touch-down and touch-motion.
type Event interface {
	Type() EventType
	Position() (x, y int32)
	Destroy()
}

// Source is an input device context.
type Source interface {
	// Fd becomes readable when events are pending.
	Fd() int
	// Dispatch reads pending events from the device into the queue.
	Dispatch() error
	// NextEvent pops the next queued event, or returns nil when drained.
	NextEvent() Event
	Close()
}

// State is a snapshot of the pointer.
type State struct {
	X, Y    int32
	Pressed bool
}

// Pointer is the shared pointer state. One goroutine writes it through a
// Bridge; readers never block. Position and pressed are stored separately,
// so a reader racing a writer may see a new position with a stale flag.
type Pointer struct {
	xy      atomic.Uint64
	pressed atomic.Bool
}

func (p *Pointer) setPosition(x, y int32) {
	p.xy.Store(uint64(uint32(x))<<32 | uint64(uint32(y)))
}

// ReadPointer returns the current position and pressed flag.
func (p *Pointer) ReadPointer() (x, y int32, pressed bool) {
	xy := p.xy.Load()
	return int32(uint32(xy >> 32)), int32(uint32(xy)), p.pressed.Load()
}

func (p *Pointer) State() State {
	x, y, pressed := p.ReadPointer()
	return State{X: x, Y: y, Pressed: pressed}
}

// Bridge drains a Source into a Pointer. A Bridge without a source is
// valid and leaves the pointer released at its last position.
type Bridge struct {
	src Source
	ptr *Pointer
}

func NewBridge(src Source, ptr *Pointer) *Bridge {
	if ptr == nil {
		ptr = &Pointer{}
	}
	return &Bridge{src: src, ptr: ptr}
}

func (b *Bridge) Pointer() *Pointer { return b.ptr }

// Fd returns the descriptor to poll for readiness, or -1 without a source.
func (b *Bridge) Fd() int {
	if b.src == nil {
		return -1
	}
	return b.src.Fd()
}

// Dispatch processes every currently queued event in arrival order and
// returns how many were seen.
func (b *Bridge) Dispatch() (int, error) {
	if b.src == nil {
		return 0, nil
	}
	if err := b.src.Dispatch(); err != nil {
		return 0, fmt.Errorf("input: dispatch: %w", err)
	}
	n := 0
	for ev := b.src.NextEvent(); ev != nil; ev = b.src.NextEvent() {
		b.Apply(ev)
		ev.Destroy()
		n++
	}
	return n, nil
}

// Apply folds one event into the pointer state.
func (b *Bridge) Apply(ev Event) {
	switch ev.Type() {
	case EventTouchDown:
		x, y := ev.Position()
		b.ptr.setPosition(x, y)
		b.ptr.pressed.Store(true)
		slog.Debug("input: touch down", "x", x, "y", y)
	case EventTouchMotion:
		b.ptr.setPosition(ev.Position())
	case EventTouchUp:
		b.ptr.pressed.Store(false)
	}
}

// Close releases the source. It is safe to call more than once.
func (b *Bridge) Close() {
	if b.src != nil {
		b.src.Close()
		b.src = nil
	}
}

// OpenRestricted opens a device node for the input library. It returns the
// descriptor, or the negated errno on failure.
func OpenRestricted(path string, flags int) int {
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		var errno unix.Errno
		if errors.As(err, &errno) {
			return -int(errno)
		}
		return -int(unix.EIO)
	}
	return fd
}

func CloseRestricted(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
