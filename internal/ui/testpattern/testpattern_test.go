package testpattern

import (
	"encoding/binary"
	"image/color"
	"testing"

	"github.com/tinyrange/planeui/internal/ui"
)

type recordingHandler struct {
	display ui.Display
	ack     bool
	flushes [][]byte
	areas   []ui.Area
}

func (h *recordingHandler) Flush(area ui.Area, pixels []byte) {
	h.flushes = append(h.flushes, pixels)
	h.areas = append(h.areas, area)
	if h.ack {
		h.display.FlushReady()
	}
}

type fixedPointer struct {
	x, y    int32
	pressed bool
}

func (p *fixedPointer) ReadPointer() (int32, int32, bool) { return p.x, p.y, p.pressed }

func setup(t *testing.T, ack bool) (*Engine, *recordingHandler, *fixedPointer, [][]byte) {
	t.Helper()
	e := New(0)
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ptr := &fixedPointer{}
	if err := e.CreatePointer(ptr); err != nil {
		t.Fatalf("CreatePointer: %v", err)
	}
	disp, err := e.CreateDisplay(80, 48)
	if err != nil {
		t.Fatalf("CreateDisplay: %v", err)
	}
	bufs := [][]byte{make([]byte, 80*48*2), make([]byte, 80*48*2)}
	if err := disp.SetBuffers(bufs[0], bufs[1], ui.RenderDirect); err != nil {
		t.Fatalf("SetBuffers: %v", err)
	}
	h := &recordingHandler{display: disp, ack: ack}
	disp.SetFlushHandler(h)
	return e, h, ptr, bufs
}

func pixel565(buf []byte, x, y int) uint16 {
	return binary.LittleEndian.Uint16(buf[(y*80+x)*2:])
}

func TestRedrawsOnlyWhenPointerChanges(t *testing.T) {
	e, h, ptr, bufs := setup(t, true)

	e.RunPeriodicTasks()
	e.RunPeriodicTasks()
	if len(h.flushes) != 1 {
		t.Fatalf("expected 1 flush for a static screen, got %d", len(h.flushes))
	}
	if &h.flushes[0][0] != &bufs[0][0] {
		t.Fatalf("first frame not rendered into buffer 0")
	}
	if h.areas[0] != (ui.Area{X1: 0, Y1: 0, X2: 79, Y2: 47}) {
		t.Fatalf("unexpected flush area %+v", h.areas[0])
	}

	ptr.x, ptr.y, ptr.pressed = 40, 20, true
	e.RunPeriodicTasks()
	if len(h.flushes) != 2 {
		t.Fatalf("expected a redraw after touch, got %d flushes", len(h.flushes))
	}
	if &h.flushes[1][0] != &bufs[1][0] {
		t.Fatalf("second frame not rendered into buffer 1")
	}
	if got := pixel565(bufs[1], 40, 20); got != 0xf800 {
		t.Fatalf("expected red marker at touch point, got %#04x", got)
	}
	if e.Frames() != 2 {
		t.Fatalf("expected 2 frames, got %d", e.Frames())
	}
}

func TestBarsAndRamp(t *testing.T) {
	e, _, _, bufs := setup(t, true)
	e.RunPeriodicTasks()

	if got := pixel565(bufs[0], 0, 0); got != 0xffff {
		t.Fatalf("expected white first bar, got %#04x", got)
	}
	if got := pixel565(bufs[0], 10, 0); got != 0xffe0 {
		t.Fatalf("expected yellow second bar, got %#04x", got)
	}
	if got := pixel565(bufs[0], 79, 0); got != 0x0000 {
		t.Fatalf("expected black last bar, got %#04x", got)
	}
	if got := pixel565(bufs[0], 0, 47); got != 0x0000 {
		t.Fatalf("expected ramp to start black, got %#04x", got)
	}
	if got := pixel565(bufs[0], 79, 47); got != 0xffff {
		t.Fatalf("expected ramp to end white, got %#04x", got)
	}
}

func TestWaitsForAcknowledgement(t *testing.T) {
	e, h, ptr, _ := setup(t, false)

	e.RunPeriodicTasks()
	ptr.pressed = true
	e.RunPeriodicTasks()
	if len(h.flushes) != 1 {
		t.Fatalf("expected no flush while one is outstanding, got %d", len(h.flushes))
	}

	h.display.FlushReady()
	e.RunPeriodicTasks()
	if len(h.flushes) != 2 {
		t.Fatalf("expected flush after acknowledgement, got %d", len(h.flushes))
	}
}

func TestClockAdvances(t *testing.T) {
	e := New(0)
	e.AdvanceClock(1)
	e.AdvanceClock(1)
	if e.Clock() != 2 {
		t.Fatalf("expected clock 2, got %d", e.Clock())
	}
	if e.Period() != DefaultPeriod {
		t.Fatalf("expected default period, got %s", e.Period())
	}
}

func TestSetBuffersValidation(t *testing.T) {
	e := New(0)
	if _, err := e.CreateDisplay(10, 10); err == nil {
		t.Fatalf("expected CreateDisplay before Init to fail")
	}
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	disp, err := e.CreateDisplay(10, 10)
	if err != nil {
		t.Fatalf("CreateDisplay: %v", err)
	}
	if err := disp.SetBuffers(make([]byte, 200), nil, ui.RenderPartial); err == nil {
		t.Fatalf("expected partial mode to be rejected")
	}
	if err := disp.SetBuffers(make([]byte, 300), nil, ui.RenderDirect); err == nil {
		t.Fatalf("expected 3 bytes per pixel to be rejected")
	}
	if err := disp.SetBuffers(make([]byte, 400), make([]byte, 200), ui.RenderDirect); err == nil {
		t.Fatalf("expected mismatched buffers to be rejected")
	}
	if err := disp.SetBuffers(make([]byte, 400), make([]byte, 400), ui.RenderDirect); err != nil {
		t.Fatalf("SetBuffers XRGB8888: %v", err)
	}
}

func TestRGB565(t *testing.T) {
	for _, tc := range []struct {
		c    color.RGBA
		want uint16
	}{
		{color.RGBA{0xff, 0x00, 0x00, 0xff}, 0xf800},
		{color.RGBA{0x00, 0xff, 0x00, 0xff}, 0x07e0},
		{color.RGBA{0x00, 0x00, 0xff, 0xff}, 0x001f},
	} {
		if got := RGB565(tc.c); got != tc.want {
			t.Fatalf("RGB565(%v) = %#04x, want %#04x", tc.c, got, tc.want)
		}
	}
}
