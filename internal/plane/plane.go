// Package plane owns the hardware scanout plane and its back buffers.
//
// A Manager drives a Library through open, create, map, commit and close.
// The plane is either fully allocated and mapped or absent; Commit refuses
// to publish anything in between.
package plane

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrDeviceOpen      = errors.New("plane: device open failed")
	ErrPlaneAllocation = errors.New("plane: plane allocation failed")
	ErrMapping         = errors.New("plane: buffer mapping failed")
	ErrNotReady        = errors.New("plane: plane is not allocated and mapped")
)

// DeviceHandle and PlaneHandle are opaque library handles. Zero means none.
type (
	DeviceHandle uintptr
	PlaneHandle  uintptr
)

// Spec describes the plane requested from the library.
type Spec struct {
	Type        Type
	Index       int
	Width       int
	Height      int
	Format      Format
	BufferCount int
}

// BufferSize is the byte size of a single back buffer.
func (s Spec) BufferSize() int {
	return s.Width * s.Height * s.Format.BytesPerPixel()
}

// Library is the graphics-plane allocation library the manager consumes.
type Library interface {
	OpenDevice(name string) (DeviceHandle, error)
	CloseDevice(dev DeviceHandle)

	CreatePlane(dev DeviceHandle, spec Spec) (PlaneHandle, error)
	FreePlane(p PlaneHandle)

	// MapBuffers returns one slice per buffer, each Spec.BufferSize long.
	MapBuffers(p PlaneHandle) ([][]byte, error)

	SetPosition(p PlaneHandle, x, y int)

	// Apply publishes the position and the buffer at index active.
	Apply(p PlaneHandle, active int) error
}

// Manager is the single owner of the device session and its plane.
type Manager struct {
	lib Library

	device  DeviceHandle
	plane   PlaneHandle
	spec    Spec
	buffers [][]byte
	active  int
	x, y    int
}

func NewManager(lib Library) *Manager {
	return &Manager{lib: lib}
}

// Open opens the graphics device by name.
func (m *Manager) Open(name string) error {
	if m.device != 0 {
		return fmt.Errorf("%w: %s: device already open", ErrDeviceOpen, name)
	}
	dev, err := m.lib.OpenDevice(name)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceOpen, name, err)
	}
	if dev == 0 {
		return fmt.Errorf("%w: %s: library returned no device", ErrDeviceOpen, name)
	}
	m.device = dev
	slog.Debug("plane: device open", "name", name)
	return nil
}

// CreatePlane allocates the scanout plane. It does not map buffers.
func (m *Manager) CreatePlane(spec Spec) error {
	if m.device == 0 {
		return fmt.Errorf("%w: no device open", ErrPlaneAllocation)
	}
	if m.plane != 0 {
		return fmt.Errorf("%w: plane already created", ErrPlaneAllocation)
	}
	if spec.Width <= 0 || spec.Height <= 0 || spec.BufferCount <= 0 {
		return fmt.Errorf("%w: invalid geometry %dx%d with %d buffers",
			ErrPlaneAllocation, spec.Width, spec.Height, spec.BufferCount)
	}
	if spec.Format.BytesPerPixel() == 0 {
		return fmt.Errorf("%w: unsupported format %s", ErrPlaneAllocation, spec.Format)
	}

	p, err := m.lib.CreatePlane(m.device, spec)
	if err != nil {
		return fmt.Errorf("%w: %s plane %d %s: %w", ErrPlaneAllocation, spec.Type, spec.Index, spec.Format, err)
	}
	if p == 0 {
		return fmt.Errorf("%w: %s plane %d %s: no matching plane", ErrPlaneAllocation, spec.Type, spec.Index, spec.Format)
	}
	m.plane = p
	m.spec = spec
	slog.Debug("plane: created",
		"type", spec.Type, "index", spec.Index,
		"width", spec.Width, "height", spec.Height,
		"format", spec.Format, "buffers", spec.BufferCount)
	return nil
}

// MapBuffers maps every buffer of the plane. Any failure tears down the
// plane and the device since a partially mapped plane is not a valid state.
func (m *Manager) MapBuffers() error {
	if m.plane == 0 {
		return fmt.Errorf("%w: no plane created", ErrMapping)
	}
	bufs, err := m.lib.MapBuffers(m.plane)
	if err == nil {
		err = m.checkBuffers(bufs)
	}
	if err != nil {
		m.Close()
		return fmt.Errorf("%w: %w", ErrMapping, err)
	}
	m.buffers = bufs
	m.active = 0
	return nil
}

func (m *Manager) checkBuffers(bufs [][]byte) error {
	if len(bufs) != m.spec.BufferCount {
		return fmt.Errorf("mapped %d of %d buffers", len(bufs), m.spec.BufferCount)
	}
	size := m.spec.BufferSize()
	for i, buf := range bufs {
		if len(buf) < size {
			return fmt.Errorf("buffer %d is %d bytes, want %d", i, len(buf), size)
		}
	}
	return nil
}

// Init runs Open, CreatePlane and MapBuffers, tearing down on any failure.
func (m *Manager) Init(device string, spec Spec) error {
	if err := m.Open(device); err != nil {
		return err
	}
	if err := m.CreatePlane(spec); err != nil {
		m.Close()
		return err
	}
	return m.MapBuffers()
}

// Ready reports whether the plane is allocated and every buffer is mapped.
func (m *Manager) Ready() bool {
	return m.plane != 0 && m.buffers != nil
}

func (m *Manager) Spec() Spec { return m.spec }

// Buffers returns the mapped buffers. Nil until MapBuffers succeeds.
func (m *Manager) Buffers() [][]byte { return m.buffers }

func (m *Manager) Active() int { return m.active }

func (m *Manager) Position() (x, y int) { return m.x, m.y }

// SetPosition moves the plane. The change is visible on the next Commit.
func (m *Manager) SetPosition(x, y int) {
	m.x, m.y = x, y
	if m.plane != 0 {
		m.lib.SetPosition(m.plane, x, y)
	}
}

// Select makes the buffer at index i the one published by the next Commit.
func (m *Manager) Select(i int) error {
	if !m.Ready() {
		return ErrNotReady
	}
	if i < 0 || i >= len(m.buffers) {
		return fmt.Errorf("plane: buffer index %d out of range [0,%d)", i, len(m.buffers))
	}
	m.active = i
	return nil
}

// BufferIndex resolves a rendered pixel slice to the mapped buffer backing
// it, or -1 if it is not one of ours.
func (m *Manager) BufferIndex(pixels []byte) int {
	if len(pixels) == 0 {
		return -1
	}
	for i, buf := range m.buffers {
		if len(buf) > 0 && &buf[0] == &pixels[0] {
			return i
		}
	}
	return -1
}

// Commit publishes the current position and active buffer to hardware.
func (m *Manager) Commit() error {
	if !m.Ready() {
		return ErrNotReady
	}
	if err := m.lib.Apply(m.plane, m.active); err != nil {
		return fmt.Errorf("plane: apply buffer %d: %w", m.active, err)
	}
	return nil
}

// Present selects the buffer backing pixels, if any, and commits.
func (m *Manager) Present(pixels []byte) error {
	if i := m.BufferIndex(pixels); i >= 0 {
		m.active = i
	}
	return m.Commit()
}

// Close frees the plane and then closes the device. Absent resources are
// skipped, so Close may be called any number of times.
func (m *Manager) Close() error {
	if m.plane != 0 {
		m.lib.FreePlane(m.plane)
		m.plane = 0
		m.buffers = nil
		m.active = 0
		slog.Debug("plane: freed")
	}
	if m.device != 0 {
		m.lib.CloseDevice(m.device)
		m.device = 0
		slog.Debug("plane: device closed")
	}
	return nil
}
