// Package memplane is a heap-backed plane.Library for running the display
// runtime without a DRM device.
package memplane

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tinyrange/planeui/internal/plane"
)

// DefaultFormats mirrors what a typical LCD controller accepts per plane type.
var DefaultFormats = map[plane.Type][]plane.Format{
	plane.TypePrimary: {plane.FormatRGB565, plane.FormatXRGB8888, plane.FormatARGB8888},
	plane.TypeOverlay: {plane.FormatRGB565, plane.FormatRGB888, plane.FormatXRGB8888, plane.FormatARGB8888},
	plane.TypeCursor:  {plane.FormatARGB8888},
}

// Commit records one Apply call.
type Commit struct {
	Plane  plane.PlaneHandle
	Active int
	X, Y   int
}

type memPlane struct {
	spec    plane.Spec
	buffers [][]byte
	mapped  bool
	x, y    int
}

// Library keeps every plane in process memory. It is safe for concurrent use.
type Library struct {
	// Devices lists the device names OpenDevice accepts. Empty accepts any.
	Devices []string
	// Formats lists supported formats per plane type. Nil means DefaultFormats.
	Formats map[plane.Type][]plane.Format
	// Planes is the number of hardware planes of each type. Zero means one.
	Planes int
	// MapFailure, when set, is returned by every MapBuffers call.
	MapFailure error

	mu      sync.Mutex
	next    uintptr
	devices map[plane.DeviceHandle]string
	planes  map[plane.PlaneHandle]*memPlane
	commits []Commit
	total   int
}

// keepCommits bounds how much commit history a long headless run retains.
const keepCommits = 256

func New() *Library {
	return &Library{}
}

var _ plane.Library = (*Library)(nil)

func (l *Library) handle() uintptr {
	l.next++
	return l.next
}

func (l *Library) OpenDevice(name string) (plane.DeviceHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.Devices) > 0 && !slices.Contains(l.Devices, name) {
		return 0, fmt.Errorf("memplane: no device named %q", name)
	}
	if l.devices == nil {
		l.devices = make(map[plane.DeviceHandle]string)
	}
	dev := plane.DeviceHandle(l.handle())
	l.devices[dev] = name
	return dev, nil
}

func (l *Library) CloseDevice(dev plane.DeviceHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.devices[dev]; !ok {
		panic(fmt.Sprintf("memplane: close of unknown device %d", dev))
	}
	delete(l.devices, dev)
}

func (l *Library) CreatePlane(dev plane.DeviceHandle, spec plane.Spec) (plane.PlaneHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.devices[dev]; !ok {
		return 0, fmt.Errorf("memplane: unknown device %d", dev)
	}
	count := l.Planes
	if count == 0 {
		count = 1
	}
	if spec.Index < 0 || spec.Index >= count {
		return 0, fmt.Errorf("memplane: no %s plane at index %d", spec.Type, spec.Index)
	}
	formats := l.Formats
	if formats == nil {
		formats = DefaultFormats
	}
	if !slices.Contains(formats[spec.Type], spec.Format) {
		return 0, fmt.Errorf("memplane: %s plane does not support %s", spec.Type, spec.Format)
	}
	for _, p := range l.planes {
		if p.spec.Type == spec.Type && p.spec.Index == spec.Index {
			return 0, fmt.Errorf("memplane: %s plane %d already in use", spec.Type, spec.Index)
		}
	}

	p := &memPlane{spec: spec}
	for range spec.BufferCount {
		p.buffers = append(p.buffers, make([]byte, spec.BufferSize()))
	}
	if l.planes == nil {
		l.planes = make(map[plane.PlaneHandle]*memPlane)
	}
	h := plane.PlaneHandle(l.handle())
	l.planes[h] = p
	return h, nil
}

func (l *Library) FreePlane(h plane.PlaneHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.planes[h]; !ok {
		panic(fmt.Sprintf("memplane: free of unknown plane %d", h))
	}
	delete(l.planes, h)
}

func (l *Library) MapBuffers(h plane.PlaneHandle) ([][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.planes[h]
	if !ok {
		return nil, fmt.Errorf("memplane: unknown plane %d", h)
	}
	if l.MapFailure != nil {
		return nil, fmt.Errorf("memplane: map plane %d: %w", h, l.MapFailure)
	}
	p.mapped = true
	return slices.Clone(p.buffers), nil
}

func (l *Library) SetPosition(h plane.PlaneHandle, x, y int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.planes[h]; ok {
		p.x, p.y = x, y
	}
}

func (l *Library) Apply(h plane.PlaneHandle, active int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.planes[h]
	if !ok {
		return fmt.Errorf("memplane: unknown plane %d", h)
	}
	if !p.mapped {
		return fmt.Errorf("memplane: plane %d is not mapped", h)
	}
	if active < 0 || active >= len(p.buffers) {
		return fmt.Errorf("memplane: buffer %d out of range", active)
	}
	if len(l.commits) == keepCommits {
		l.commits = slices.Delete(l.commits, 0, 1)
	}
	l.commits = append(l.commits, Commit{Plane: h, Active: active, X: p.x, Y: p.y})
	l.total++
	if l.total%1000 == 0 {
		slog.Debug("memplane: commits", "count", l.total)
	}
	return nil
}

// CommitCount is the number of successful Apply calls.
func (l *Library) CommitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Commits returns a copy of the most recent Apply calls, oldest first.
func (l *Library) Commits() []Commit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.commits)
}

// Live reports how many devices and planes are currently allocated.
func (l *Library) Live() (devices, planes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.devices), len(l.planes)
}

// Scanout returns the buffer most recently committed for the plane, or nil.
func (l *Library) Scanout(h plane.PlaneHandle) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.planes[h]
	if !ok {
		return nil
	}
	for i := len(l.commits) - 1; i >= 0; i-- {
		if l.commits[i].Plane == h {
			return p.buffers[l.commits[i].Active]
		}
	}
	return nil
}
