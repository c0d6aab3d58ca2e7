//go:build linux

// Package libinput binds libinput and libudev through purego and exposes a
// seat's touch events as an input.Source.
package libinput

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/tinyrange/planeui/internal/input"
)

const (
	DefaultInputLibrary = "libinput.so.10"
	DefaultUdevLibrary  = "libudev.so.1"
	DefaultSeat         = "seat0"
)

// enum libinput_event_type
const (
	eventTouchDown   = 500
	eventTouchUp     = 501
	eventTouchMotion = 502
)

// Options selects the libraries, the seat, and the screen size touch
// coordinates are transformed into.
type Options struct {
	InputLibrary string
	UdevLibrary  string
	Seat         string
	Width        int
	Height       int
}

// liInterface mirrors struct libinput_interface. libinput keeps the pointer
// for the lifetime of the context, so the one instance lives in a global.
type liInterface struct {
	openRestricted  uintptr
	closeRestricted uintptr
}

var (
	loadOnce sync.Once
	loadErr  error
	iface    liInterface

	udevNew   func() uintptr
	udevUnref func(udev uintptr) uintptr

	createContext func(iface *liInterface, userData uintptr, udev uintptr) uintptr
	assignSeat    func(li uintptr, seat string) int32
	getFd         func(li uintptr) int32
	dispatch      func(li uintptr) int32
	getEvent      func(li uintptr) uintptr
	unref         func(li uintptr) uintptr

	eventGetType       func(ev uintptr) int32
	eventGetTouchEvent func(ev uintptr) uintptr
	eventDestroy       func(ev uintptr)
	touchGetX          func(t uintptr, width uint32) float64
	touchGetY          func(t uintptr, height uint32) float64
)

func load(inputLib, udevLib string) error {
	loadOnce.Do(func() {
		udev, err := purego.Dlopen(udevLib, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			loadErr = fmt.Errorf("load %s: %w", udevLib, err)
			return
		}
		li, err := purego.Dlopen(inputLib, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			loadErr = fmt.Errorf("load %s: %w", inputLib, err)
			return
		}

		purego.RegisterLibFunc(&udevNew, udev, "udev_new")
		purego.RegisterLibFunc(&udevUnref, udev, "udev_unref")

		purego.RegisterLibFunc(&createContext, li, "libinput_udev_create_context")
		purego.RegisterLibFunc(&assignSeat, li, "libinput_udev_assign_seat")
		purego.RegisterLibFunc(&getFd, li, "libinput_get_fd")
		purego.RegisterLibFunc(&dispatch, li, "libinput_dispatch")
		purego.RegisterLibFunc(&getEvent, li, "libinput_get_event")
		purego.RegisterLibFunc(&unref, li, "libinput_unref")
		purego.RegisterLibFunc(&eventGetType, li, "libinput_event_get_type")
		purego.RegisterLibFunc(&eventGetTouchEvent, li, "libinput_event_get_touch_event")
		purego.RegisterLibFunc(&eventDestroy, li, "libinput_event_destroy")
		purego.RegisterLibFunc(&touchGetX, li, "libinput_event_touch_get_x_transformed")
		purego.RegisterLibFunc(&touchGetY, li, "libinput_event_touch_get_y_transformed")

		iface.openRestricted = purego.NewCallback(func(path uintptr, flags int32, _ uintptr) int32 {
			return int32(input.OpenRestricted(goString(path), int(flags)))
		})
		iface.closeRestricted = purego.NewCallback(func(fd int32, _ uintptr) {
			input.CloseRestricted(int(fd))
		})
	})
	return loadErr
}

func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 { //nolint:govet
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n)) //nolint:govet
}

// Context is a libinput context bound to one seat.
type Context struct {
	udev   uintptr
	li     uintptr
	fd     int
	width  uint32
	height uint32
}

var _ input.Source = (*Context)(nil)

// Open creates a udev-backed context and assigns the seat. Failures wrap
// input.ErrInputInit.
func Open(opts Options) (*Context, error) {
	if opts.InputLibrary == "" {
		opts.InputLibrary = DefaultInputLibrary
	}
	if opts.UdevLibrary == "" {
		opts.UdevLibrary = DefaultUdevLibrary
	}
	if opts.Seat == "" {
		opts.Seat = DefaultSeat
	}
	if err := load(opts.InputLibrary, opts.UdevLibrary); err != nil {
		return nil, fmt.Errorf("%w: %w", input.ErrInputInit, err)
	}

	udev := udevNew()
	if udev == 0 {
		return nil, fmt.Errorf("%w: udev_new failed", input.ErrInputInit)
	}
	li := createContext(&iface, 0, udev)
	if li == 0 {
		udevUnref(udev)
		return nil, fmt.Errorf("%w: libinput_udev_create_context failed", input.ErrInputInit)
	}
	if ret := assignSeat(li, opts.Seat); ret != 0 {
		unref(li)
		udevUnref(udev)
		return nil, fmt.Errorf("%w: assign seat %q: %d", input.ErrInputInit, opts.Seat, ret)
	}

	return &Context{
		udev:   udev,
		li:     li,
		fd:     int(getFd(li)),
		width:  uint32(max(opts.Width, 1)),
		height: uint32(max(opts.Height, 1)),
	}, nil
}

func (c *Context) Fd() int { return c.fd }

func (c *Context) Dispatch() error {
	if ret := dispatch(c.li); ret != 0 {
		return fmt.Errorf("libinput: dispatch: %d", ret)
	}
	return nil
}

func (c *Context) NextEvent() input.Event {
	ev := getEvent(c.li)
	if ev == 0 {
		return nil
	}
	e := &event{ev: ev}
	switch eventGetType(ev) {
	case eventTouchDown:
		e.typ = input.EventTouchDown
		e.readPosition(c)
	case eventTouchMotion:
		e.typ = input.EventTouchMotion
		e.readPosition(c)
	case eventTouchUp:
		e.typ = input.EventTouchUp
	default:
		e.typ = input.EventOther
	}
	return e
}

// Close destroys the context and the udev handle. Safe to call twice.
func (c *Context) Close() {
	if c.li != 0 {
		unref(c.li)
		c.li = 0
	}
	if c.udev != 0 {
		udevUnref(c.udev)
		c.udev = 0
	}
	c.fd = -1
}

type event struct {
	ev   uintptr
	typ  input.EventType
	x, y int32
}

func (e *event) readPosition(c *Context) {
	t := eventGetTouchEvent(e.ev)
	if t == 0 {
		return
	}
	e.x = int32(touchGetX(t, c.width))
	e.y = int32(touchGetY(t, c.height))
}

func (e *event) Type() input.EventType    { return e.typ }
func (e *event) Position() (int32, int32) { return e.x, e.y }

func (e *event) Destroy() {
	if e.ev != 0 {
		eventDestroy(e.ev)
		e.ev = 0
	}
}
