//go:build !linux

package libinput

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/planeui/internal/input"
)

const (
	DefaultInputLibrary = "libinput.so.10"
	DefaultUdevLibrary  = "libudev.so.1"
	DefaultSeat         = "seat0"
)

type Options struct {
	InputLibrary string
	UdevLibrary  string
	Seat         string
	Width        int
	Height       int
}

// Open always fails: libinput only exists on Linux.
func Open(opts Options) (input.Source, error) {
	return nil, fmt.Errorf("%w: libinput not supported on %s", input.ErrInputInit, runtime.GOOS)
}
