//go:build !linux

package libplanes

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/planeui/internal/plane"
)

const (
	DefaultPlanesLibrary = "libplanes.so.1"
	DefaultDRMLibrary    = "libdrm.so.2"
)

// Open always fails: DRM planes only exist on Linux.
func Open(planesLib, drmLib string) (plane.Library, error) {
	return nil, fmt.Errorf("libplanes: not supported on %s", runtime.GOOS)
}
