//go:build !linux

package lvgl

import (
	"errors"
	"time"

	"github.com/tinyrange/planeui/internal/ui"
)

const DefaultLibrary = "liblvgl.so.9"

const DefaultPeriod = 33 * time.Millisecond

var errUnsupported = errors.New("lvgl: only supported on linux")

// Engine fails to initialize on this platform.
type Engine struct {
	period time.Duration
}

var _ ui.Engine = (*Engine)(nil)

func New(library string, period time.Duration) *Engine {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Engine{period: period}
}

func (e *Engine) Init() error            { return errUnsupported }
func (e *Engine) Deinit()                {}
func (e *Engine) AdvanceClock(ms uint32) {}
func (e *Engine) RunPeriodicTasks()      {}
func (e *Engine) Period() time.Duration  { return e.period }
func (e *Engine) StartDemo() error       { return errUnsupported }

func (e *Engine) CreatePointer(ui.PointerReader) error { return errUnsupported }

func (e *Engine) CreateDisplay(width, height int) (ui.Display, error) {
	return nil, errUnsupported
}
