//go:build linux

// Package libplanes binds libplanes and libdrm through purego and exposes
// them as a plane.Library.
package libplanes

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/tinyrange/planeui/internal/plane"
)

const (
	DefaultPlanesLibrary = "libplanes.so.1"
	DefaultDRMLibrary    = "libdrm.so.2"
)

// planeData mirrors the leading fields of struct plane_data from
// planes/plane.h. Only bufs and buffer_count are read.
type planeData struct {
	plane       uintptr // struct kms_plane *
	fbs         uintptr // struct kms_framebuffer **
	bufs        uintptr // void **
	bufferCount uint32
	frontBuf    uint32
}

type device struct {
	fd  int32
	kms uintptr
}

type planeState struct {
	spec   plane.Spec
	active int
}

// Library is a plane.Library over the native libraries.
type Library struct {
	drmOpen  func(name string, busid *byte) int32
	drmClose func(fd int32) int32

	kmsDeviceOpen  func(fd int32) uintptr
	kmsDeviceClose func(dev uintptr)

	planeCreateBuffered func(dev uintptr, typ int32, index int32, width, height int32, format uint32, count uint32) uintptr
	planeFbMap          func(p uintptr) int32
	planeSetPos         func(p uintptr, x, y int32)
	planeApply          func(p uintptr)
	planeFlip           func(p uintptr, target uint32) int32
	planeFree           func(p uintptr)

	mu      sync.Mutex
	devices map[plane.DeviceHandle]device
	planes  map[plane.PlaneHandle]*planeState
}

var _ plane.Library = (*Library)(nil)

// Open loads both shared libraries. Empty names select the defaults.
func Open(planesLib, drmLib string) (*Library, error) {
	if planesLib == "" {
		planesLib = DefaultPlanesLibrary
	}
	if drmLib == "" {
		drmLib = DefaultDRMLibrary
	}

	drm, err := purego.Dlopen(drmLib, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("libplanes: load %s: %w", drmLib, err)
	}
	planes, err := purego.Dlopen(planesLib, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("libplanes: load %s: %w", planesLib, err)
	}

	l := &Library{
		devices: make(map[plane.DeviceHandle]device),
		planes:  make(map[plane.PlaneHandle]*planeState),
	}

	purego.RegisterLibFunc(&l.drmOpen, drm, "drmOpen")
	purego.RegisterLibFunc(&l.drmClose, drm, "drmClose")

	purego.RegisterLibFunc(&l.kmsDeviceOpen, planes, "kms_device_open")
	purego.RegisterLibFunc(&l.kmsDeviceClose, planes, "kms_device_close")
	purego.RegisterLibFunc(&l.planeCreateBuffered, planes, "plane_create_buffered")
	purego.RegisterLibFunc(&l.planeFbMap, planes, "plane_fb_map")
	purego.RegisterLibFunc(&l.planeSetPos, planes, "plane_set_pos")
	purego.RegisterLibFunc(&l.planeApply, planes, "plane_apply")
	purego.RegisterLibFunc(&l.planeFree, planes, "plane_free")

	// Older libplanes releases have no plane_flip; those only ever show
	// the buffer selected at creation.
	if sym, err := purego.Dlsym(planes, "plane_flip"); err == nil {
		purego.RegisterFunc(&l.planeFlip, sym)
	} else {
		slog.Warn("libplanes: plane_flip not exported, buffer flips disabled", "library", planesLib)
	}

	return l, nil
}

func (l *Library) OpenDevice(name string) (plane.DeviceHandle, error) {
	fd := l.drmOpen(name, nil)
	if fd < 0 {
		return 0, fmt.Errorf("libplanes: drmOpen(%q) = %d", name, fd)
	}
	kms := l.kmsDeviceOpen(fd)
	if kms == 0 {
		l.drmClose(fd)
		return 0, fmt.Errorf("libplanes: kms_device_open on fd %d failed", fd)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	h := plane.DeviceHandle(kms)
	l.devices[h] = device{fd: fd, kms: kms}
	return h, nil
}

func (l *Library) CloseDevice(dev plane.DeviceHandle) {
	l.mu.Lock()
	d, ok := l.devices[dev]
	delete(l.devices, dev)
	l.mu.Unlock()
	if !ok {
		return
	}
	l.kmsDeviceClose(d.kms)
	if d.fd >= 0 {
		l.drmClose(d.fd)
	}
}

func (l *Library) CreatePlane(dev plane.DeviceHandle, spec plane.Spec) (plane.PlaneHandle, error) {
	l.mu.Lock()
	d, ok := l.devices[dev]
	l.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("libplanes: unknown device")
	}

	p := l.planeCreateBuffered(d.kms,
		int32(spec.Type), int32(spec.Index),
		int32(spec.Width), int32(spec.Height),
		uint32(spec.Format), uint32(spec.BufferCount))
	if p == 0 {
		return 0, fmt.Errorf("libplanes: plane_create_buffered(%s, %d, %dx%d, %s, %d) found no plane",
			spec.Type, spec.Index, spec.Width, spec.Height, spec.Format, spec.BufferCount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	h := plane.PlaneHandle(p)
	l.planes[h] = &planeState{spec: spec}
	return h, nil
}

func (l *Library) FreePlane(p plane.PlaneHandle) {
	l.mu.Lock()
	_, ok := l.planes[p]
	delete(l.planes, p)
	l.mu.Unlock()
	if ok {
		l.planeFree(uintptr(p))
	}
}

func (l *Library) MapBuffers(p plane.PlaneHandle) ([][]byte, error) {
	l.mu.Lock()
	st, ok := l.planes[p]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("libplanes: unknown plane")
	}

	if ret := l.planeFbMap(uintptr(p)); ret != 0 {
		return nil, fmt.Errorf("libplanes: plane_fb_map = %d", ret)
	}

	pd := (*planeData)(unsafe.Pointer(uintptr(p))) //nolint:govet
	count := st.spec.BufferCount
	if pd.bufs == 0 || int(pd.bufferCount) < count {
		return nil, fmt.Errorf("libplanes: plane reports %d mapped buffers, want %d", pd.bufferCount, count)
	}

	size := st.spec.BufferSize()
	ptrs := unsafe.Slice((*uintptr)(unsafe.Pointer(pd.bufs)), count) //nolint:govet
	bufs := make([][]byte, count)
	for i, ptr := range ptrs {
		if ptr == 0 {
			return nil, fmt.Errorf("libplanes: buffer %d not mapped", i)
		}
		bufs[i] = unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size) //nolint:govet
	}
	return bufs, nil
}

func (l *Library) SetPosition(p plane.PlaneHandle, x, y int) {
	l.planeSetPos(uintptr(p), int32(x), int32(y))
}

func (l *Library) Apply(p plane.PlaneHandle, active int) error {
	l.mu.Lock()
	st, ok := l.planes[p]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("libplanes: unknown plane")
	}

	if active != st.active && l.planeFlip != nil {
		if ret := l.planeFlip(uintptr(p), uint32(active)); ret != 0 {
			return fmt.Errorf("libplanes: plane_flip(%d) = %d", active, ret)
		}
		st.active = active
		return nil
	}
	l.planeApply(uintptr(p))
	return nil
}
