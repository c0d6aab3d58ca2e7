//go:build linux

// Package lvgl binds LVGL v9 through purego and exposes it as a ui.Engine.
//
// LVGL is a process-wide singleton, so only one Engine may be initialized
// at a time.
package lvgl

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/tinyrange/planeui/internal/ui"
)

const DefaultLibrary = "liblvgl.so.9"

// LV_DEF_REFR_PERIOD in lv_conf.h.
const DefaultPeriod = 33 * time.Millisecond

const (
	indevTypePointer   = 1 // LV_INDEV_TYPE_POINTER
	indevStateReleased = 0 // LV_INDEV_STATE_RELEASED
	indevStatePressed  = 1 // LV_INDEV_STATE_PRESSED
	renderModePartial  = 0 // LV_DISPLAY_RENDER_MODE_PARTIAL
	renderModeDirect   = 1 // LV_DISPLAY_RENDER_MODE_DIRECT
	renderModeFull     = 2 // LV_DISPLAY_RENDER_MODE_FULL
)

// lvArea mirrors lv_area_t.
type lvArea struct {
	x1, y1, x2, y2 int32
}

// lvIndevData mirrors lv_indev_data_t.
type lvIndevData struct {
	pointX, pointY  int32
	key             uint32
	btnID           uint32
	encDiff         int16
	state           int32
	continueReading bool
}

var (
	loadOnce sync.Once
	loadErr  error

	lvInit            func()
	lvDeinit          func()
	lvTickInc         func(ms uint32)
	lvTimerHandler    func() uint32
	lvIndevCreate     func() uintptr
	lvIndevSetType    func(indev uintptr, typ int32)
	lvIndevSetReadCb  func(indev uintptr, cb uintptr)
	lvDisplayCreate   func(width, height int32) uintptr
	lvDisplaySetBufs  func(disp uintptr, buf1, buf2 uintptr, size uint32, mode int32)
	lvDisplaySetFlush func(disp uintptr, cb uintptr)
	lvDisplayFlushRdy func(disp uintptr)
	lvDemoWidgets     func()

	readCallback  uintptr
	flushCallback uintptr

	// active is the initialized engine the callbacks dispatch to.
	active *Engine
)

func load(path string) error {
	loadOnce.Do(func() {
		lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			loadErr = fmt.Errorf("lvgl: load %s: %w", path, err)
			return
		}

		purego.RegisterLibFunc(&lvInit, lib, "lv_init")
		purego.RegisterLibFunc(&lvDeinit, lib, "lv_deinit")
		purego.RegisterLibFunc(&lvTickInc, lib, "lv_tick_inc")
		purego.RegisterLibFunc(&lvTimerHandler, lib, "lv_timer_handler")
		purego.RegisterLibFunc(&lvIndevCreate, lib, "lv_indev_create")
		purego.RegisterLibFunc(&lvIndevSetType, lib, "lv_indev_set_type")
		purego.RegisterLibFunc(&lvIndevSetReadCb, lib, "lv_indev_set_read_cb")
		purego.RegisterLibFunc(&lvDisplayCreate, lib, "lv_display_create")
		purego.RegisterLibFunc(&lvDisplaySetBufs, lib, "lv_display_set_buffers")
		purego.RegisterLibFunc(&lvDisplaySetFlush, lib, "lv_display_set_flush_cb")
		purego.RegisterLibFunc(&lvDisplayFlushRdy, lib, "lv_display_flush_ready")

		if sym, err := purego.Dlsym(lib, "lv_demo_widgets"); err == nil {
			purego.RegisterFunc(&lvDemoWidgets, sym)
		}

		readCallback = purego.NewCallback(onRead)
		flushCallback = purego.NewCallback(onFlush)
	})
	return loadErr
}

func onRead(indev uintptr, data uintptr) {
	out := (*lvIndevData)(unsafe.Pointer(data)) //nolint:govet
	e := active
	if e == nil || e.pointer == nil {
		out.state = indevStateReleased
		return
	}
	x, y, pressed := e.pointer.ReadPointer()
	out.pointX, out.pointY = x, y
	if pressed {
		out.state = indevStatePressed
	} else {
		out.state = indevStateReleased
	}
}

func onFlush(disp uintptr, area uintptr, px uintptr) {
	a := (*lvArea)(unsafe.Pointer(area)) //nolint:govet
	e := active
	if e == nil {
		lvDisplayFlushRdy(disp)
		return
	}
	d, ok := e.displays[disp]
	if !ok || d.handler == nil {
		lvDisplayFlushRdy(disp)
		return
	}
	d.handler.Flush(ui.Area{X1: a.x1, Y1: a.y1, X2: a.x2, Y2: a.y2}, d.pixels(px))
}

// Engine is LVGL. Create it with New and call Init once.
type Engine struct {
	library string
	period  time.Duration

	initialized bool
	pointer     ui.PointerReader
	displays    map[uintptr]*display
}

var (
	_ ui.Engine = (*Engine)(nil)
	_ ui.Demo   = (*Engine)(nil)
)

func New(library string, period time.Duration) *Engine {
	if library == "" {
		library = DefaultLibrary
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Engine{library: library, period: period}
}

func (e *Engine) Init() error {
	if err := load(e.library); err != nil {
		return err
	}
	if active != nil {
		return fmt.Errorf("lvgl: already initialized")
	}
	lvInit()
	e.initialized = true
	e.displays = make(map[uintptr]*display)
	active = e
	return nil
}

func (e *Engine) Deinit() {
	if !e.initialized {
		return
	}
	lvDeinit()
	e.initialized = false
	e.displays = nil
	e.pointer = nil
	if active == e {
		active = nil
	}
}

func (e *Engine) AdvanceClock(ms uint32) {
	// lv_tick_inc is safe to call from another thread.
	if lvTickInc != nil {
		lvTickInc(ms)
	}
}

func (e *Engine) RunPeriodicTasks() {
	if e.initialized {
		lvTimerHandler()
	}
}

func (e *Engine) Period() time.Duration { return e.period }

func (e *Engine) CreatePointer(r ui.PointerReader) error {
	if !e.initialized {
		return fmt.Errorf("lvgl: not initialized")
	}
	indev := lvIndevCreate()
	if indev == 0 {
		return fmt.Errorf("lvgl: lv_indev_create failed")
	}
	e.pointer = r
	lvIndevSetType(indev, indevTypePointer)
	lvIndevSetReadCb(indev, readCallback)
	return nil
}

func (e *Engine) CreateDisplay(width, height int) (ui.Display, error) {
	if !e.initialized {
		return nil, fmt.Errorf("lvgl: not initialized")
	}
	disp := lvDisplayCreate(int32(width), int32(height))
	if disp == 0 {
		return nil, fmt.Errorf("lvgl: lv_display_create(%d, %d) failed", width, height)
	}
	d := &display{disp: disp}
	e.displays[disp] = d
	lvDisplaySetFlush(disp, flushCallback)
	return d, nil
}

func (e *Engine) StartDemo() error {
	if lvDemoWidgets == nil {
		return fmt.Errorf("lvgl: %s does not export lv_demo_widgets", e.library)
	}
	lvDemoWidgets()
	slog.Debug("lvgl: widgets demo started")
	return nil
}

type display struct {
	disp    uintptr
	bufs    [][]byte
	handler ui.FlushHandler
}

func bufferAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func (d *display) SetBuffers(a, b []byte, mode ui.RenderMode) error {
	if len(a) == 0 {
		return fmt.Errorf("lvgl: no draw buffer")
	}
	if b != nil && len(b) != len(a) {
		return fmt.Errorf("lvgl: buffers differ in size: %d and %d", len(a), len(b))
	}
	var lvMode int32
	switch mode {
	case ui.RenderPartial:
		lvMode = renderModePartial
	case ui.RenderDirect:
		lvMode = renderModeDirect
	case ui.RenderFull:
		lvMode = renderModeFull
	default:
		return fmt.Errorf("lvgl: unknown render mode %d", mode)
	}
	d.bufs = [][]byte{a}
	if b != nil {
		d.bufs = append(d.bufs, b)
	}
	lvDisplaySetBufs(d.disp, bufferAddr(a), bufferAddr(b), uint32(len(a)), lvMode)
	return nil
}

func (d *display) SetFlushHandler(h ui.FlushHandler) { d.handler = h }

func (d *display) FlushReady() { lvDisplayFlushRdy(d.disp) }

// pixels maps the pointer LVGL flushed back to the draw buffer it lies in.
func (d *display) pixels(px uintptr) []byte {
	for _, b := range d.bufs {
		start := bufferAddr(b)
		if px >= start && px < start+uintptr(len(b)) {
			return b[px-start:]
		}
	}
	return nil
}
