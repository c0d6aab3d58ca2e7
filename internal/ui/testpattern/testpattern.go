// Package testpattern is a minimal ui.Engine that paints colour bars and a
// touch marker. It drives the whole display path without a widget library.
package testpattern

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyrange/planeui/internal/ui"
)

// DefaultPeriod matches the LVGL default refresh period.
const DefaultPeriod = 33 * time.Millisecond

var bars = []color.RGBA{
	{0xff, 0xff, 0xff, 0xff},
	{0xff, 0xff, 0x00, 0xff},
	{0x00, 0xff, 0xff, 0xff},
	{0x00, 0xff, 0x00, 0xff},
	{0xff, 0x00, 0xff, 0xff},
	{0xff, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xff, 0xff},
	{0x00, 0x00, 0x00, 0xff},
}

const markerRadius = 10

type pointerState struct {
	x, y    int32
	pressed bool
}

type Engine struct {
	period time.Duration
	clock  atomic.Uint64

	initialized bool
	pointer     ui.PointerReader
	display     *display

	last   pointerState
	drawn  bool
	frames int
}

var (
	_ ui.Engine = (*Engine)(nil)
	_ ui.Demo   = (*Engine)(nil)
)

func New(period time.Duration) *Engine {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Engine{period: period}
}

func (e *Engine) Init() error {
	if e.initialized {
		return fmt.Errorf("testpattern: already initialized")
	}
	e.initialized = true
	e.drawn = false
	e.frames = 0
	return nil
}

func (e *Engine) Deinit() {
	e.initialized = false
	e.pointer = nil
	e.display = nil
}

func (e *Engine) AdvanceClock(ms uint32) {
	e.clock.Add(uint64(ms))
}

// Clock returns the milliseconds advanced so far.
func (e *Engine) Clock() uint64 { return e.clock.Load() }

// Frames returns how many frames were flushed since Init.
func (e *Engine) Frames() int { return e.frames }

func (e *Engine) Period() time.Duration { return e.period }

func (e *Engine) CreatePointer(r ui.PointerReader) error {
	if !e.initialized {
		return fmt.Errorf("testpattern: not initialized")
	}
	e.pointer = r
	return nil
}

func (e *Engine) CreateDisplay(width, height int) (ui.Display, error) {
	if !e.initialized {
		return nil, fmt.Errorf("testpattern: not initialized")
	}
	if e.display != nil {
		return nil, fmt.Errorf("testpattern: display already created")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("testpattern: invalid display size %dx%d", width, height)
	}
	e.display = &display{width: width, height: height}
	return e.display, nil
}

// StartDemo forces a redraw on the next periodic run.
func (e *Engine) StartDemo() error {
	e.drawn = false
	return nil
}

func (e *Engine) RunPeriodicTasks() {
	if !e.initialized {
		return
	}

	var cur pointerState
	if e.pointer != nil {
		cur.x, cur.y, cur.pressed = e.pointer.ReadPointer()
	}

	d := e.display
	if d == nil || d.handler == nil || len(d.bufs) == 0 {
		return
	}
	if d.pending {
		return
	}
	if e.drawn && cur == e.last {
		return
	}

	buf := d.bufs[d.next]
	d.paint(buf, cur)

	d.pending = true
	d.handler.Flush(ui.Area{X1: 0, Y1: 0, X2: int32(d.width - 1), Y2: int32(d.height - 1)}, buf)
	if d.pending {
		slog.Warn("testpattern: flush handler returned without acknowledging")
	}

	d.next = (d.next + 1) % len(d.bufs)
	e.last = cur
	e.drawn = true
	e.frames++
}

type display struct {
	width, height int
	bpp           int
	bufs          [][]byte
	next          int
	handler       ui.FlushHandler
	pending       bool
}

func (d *display) SetBuffers(a, b []byte, mode ui.RenderMode) error {
	if mode != ui.RenderDirect {
		return fmt.Errorf("testpattern: only direct render mode is supported")
	}
	pixels := d.width * d.height
	if len(a) == 0 || len(a)%pixels != 0 {
		return fmt.Errorf("testpattern: buffer of %d bytes does not fit %dx%d", len(a), d.width, d.height)
	}
	bpp := len(a) / pixels
	if bpp != 2 && bpp != 4 {
		return fmt.Errorf("testpattern: unsupported %d bytes per pixel", bpp)
	}
	if b != nil && len(b) != len(a) {
		return fmt.Errorf("testpattern: buffers differ in size: %d and %d", len(a), len(b))
	}

	d.bpp = bpp
	d.bufs = [][]byte{a}
	if b != nil {
		d.bufs = append(d.bufs, b)
	}
	d.next = 0
	return nil
}

func (d *display) SetFlushHandler(h ui.FlushHandler) { d.handler = h }

func (d *display) FlushReady() { d.pending = false }

func (d *display) paint(buf []byte, p pointerState) {
	barWidth := max(d.width/len(bars), 1)
	rampTop := d.height - d.height/8

	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			var c color.RGBA
			if y >= rampTop {
				v := uint8(x * 255 / max(d.width-1, 1))
				c = color.RGBA{v, v, v, 0xff}
			} else {
				c = bars[min(x/barWidth, len(bars)-1)]
			}
			d.set(buf, x, y, c)
		}
	}

	if !p.pressed {
		return
	}
	for i := -markerRadius; i <= markerRadius; i++ {
		d.setClipped(buf, int(p.x)+i, int(p.y), color.RGBA{0xff, 0x00, 0x00, 0xff})
		d.setClipped(buf, int(p.x), int(p.y)+i, color.RGBA{0xff, 0x00, 0x00, 0xff})
	}
}

func (d *display) setClipped(buf []byte, x, y int, c color.RGBA) {
	if x < 0 || y < 0 || x >= d.width || y >= d.height {
		return
	}
	d.set(buf, x, y, c)
}

func (d *display) set(buf []byte, x, y int, c color.RGBA) {
	off := (y*d.width + x) * d.bpp
	switch d.bpp {
	case 2:
		binary.LittleEndian.PutUint16(buf[off:], RGB565(c))
	case 4:
		binary.LittleEndian.PutUint32(buf[off:], 0xff000000|uint32(c.R)<<16|uint32(c.G)<<8|uint32(c.B))
	}
}

// RGB565 packs a colour into 5-6-5 bits.
func RGB565(c color.RGBA) uint16 {
	return uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
}
