package plane_test

import (
	"errors"
	"testing"

	"github.com/tinyrange/planeui/internal/plane"
	"github.com/tinyrange/planeui/internal/plane/memplane"
)

var testSpec = plane.Spec{
	Type:        plane.TypePrimary,
	Index:       0,
	Width:       800,
	Height:      480,
	Format:      plane.FormatRGB565,
	BufferCount: 2,
}

// countingLibrary wraps memplane to observe which calls the manager makes.
type countingLibrary struct {
	*memplane.Library
	maps int
}

func (c *countingLibrary) MapBuffers(p plane.PlaneHandle) ([][]byte, error) {
	c.maps++
	return c.Library.MapBuffers(p)
}

func TestInitMapsEveryBuffer(t *testing.T) {
	lib := memplane.New()
	m := plane.NewManager(lib)
	defer m.Close()

	if err := m.Init("atmel-hlcdc", testSpec); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !m.Ready() {
		t.Fatalf("manager not ready after Init")
	}
	bufs := m.Buffers()
	if len(bufs) != 2 {
		t.Fatalf("expected 2 buffers, got %d", len(bufs))
	}
	for i, buf := range bufs {
		if len(buf) != 800*480*2 {
			t.Fatalf("buffer %d: expected %d bytes, got %d", i, 800*480*2, len(buf))
		}
	}
}

func TestCloseTwiceIsNoop(t *testing.T) {
	lib := memplane.New()
	m := plane.NewManager(lib)
	if err := m.Init("atmel-hlcdc", testSpec); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// memplane panics on a double free or double close.
	if err := m.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if devs, planes := lib.Live(); devs != 0 || planes != 0 {
		t.Fatalf("expected nothing live, got %d devices %d planes", devs, planes)
	}
}

func TestCloseWithoutOpen(t *testing.T) {
	m := plane.NewManager(memplane.New())
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUnsupportedFormatStopsBeforeMapping(t *testing.T) {
	lib := &countingLibrary{Library: memplane.New()}
	m := plane.NewManager(lib)

	spec := testSpec
	spec.Type = plane.TypeCursor
	err := m.Init("atmel-hlcdc", spec)
	if !errors.Is(err, plane.ErrPlaneAllocation) {
		t.Fatalf("expected ErrPlaneAllocation, got %v", err)
	}
	if lib.maps != 0 {
		t.Fatalf("MapBuffers called %d times after allocation failure", lib.maps)
	}
	if m.Ready() {
		t.Fatalf("manager reports ready after allocation failure")
	}
	if devs, _ := lib.Live(); devs != 0 {
		t.Fatalf("device left open after allocation failure")
	}
}

func TestUnknownFormat(t *testing.T) {
	m := plane.NewManager(memplane.New())
	defer m.Close()

	spec := testSpec
	spec.Format = plane.Format(0x12345678)
	if err := m.Init("atmel-hlcdc", spec); !errors.Is(err, plane.ErrPlaneAllocation) {
		t.Fatalf("expected ErrPlaneAllocation, got %v", err)
	}
}

func TestMappingFailureTearsDown(t *testing.T) {
	lib := memplane.New()
	lib.MapFailure = errors.New("no address space")
	m := plane.NewManager(lib)

	err := m.Init("atmel-hlcdc", testSpec)
	if !errors.Is(err, plane.ErrMapping) {
		t.Fatalf("expected ErrMapping, got %v", err)
	}
	if devs, planes := lib.Live(); devs != 0 || planes != 0 {
		t.Fatalf("expected full teardown, got %d devices %d planes", devs, planes)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close after teardown: %v", err)
	}
}

func TestDeviceOpenFailure(t *testing.T) {
	lib := memplane.New()
	lib.Devices = []string{"atmel-hlcdc"}
	m := plane.NewManager(lib)

	if err := m.Init("vc4", testSpec); !errors.Is(err, plane.ErrDeviceOpen) {
		t.Fatalf("expected ErrDeviceOpen, got %v", err)
	}
}

func TestCommitBeforeMapping(t *testing.T) {
	lib := memplane.New()
	m := plane.NewManager(lib)
	defer m.Close()

	if err := m.Commit(); !errors.Is(err, plane.ErrNotReady) {
		t.Fatalf("commit with nothing open: expected ErrNotReady, got %v", err)
	}
	if err := m.Open("atmel-hlcdc"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.CreatePlane(testSpec); err != nil {
		t.Fatalf("CreatePlane: %v", err)
	}
	if err := m.Commit(); !errors.Is(err, plane.ErrNotReady) {
		t.Fatalf("commit before mapping: expected ErrNotReady, got %v", err)
	}
	if n := lib.CommitCount(); n != 0 {
		t.Fatalf("expected no commits, got %d", n)
	}
}

func TestPresentTracksRenderedBuffer(t *testing.T) {
	lib := memplane.New()
	m := plane.NewManager(lib)
	defer m.Close()

	if err := m.Init("atmel-hlcdc", testSpec); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m.SetPosition(10, 20)

	bufs := m.Buffers()
	for _, want := range []int{1, 0, 1} {
		if err := m.Present(bufs[want]); err != nil {
			t.Fatalf("Present: %v", err)
		}
		if m.Active() != want {
			t.Fatalf("expected active buffer %d, got %d", want, m.Active())
		}
	}

	// A slice that is not one of the mapped buffers keeps the current one.
	if err := m.Present(make([]byte, 16)); err != nil {
		t.Fatalf("Present foreign slice: %v", err)
	}

	commits := lib.Commits()
	if len(commits) != 4 {
		t.Fatalf("expected 4 commits, got %d", len(commits))
	}
	last := commits[len(commits)-1]
	if last.Active != 1 || last.X != 10 || last.Y != 20 {
		t.Fatalf("unexpected last commit %+v", last)
	}
}

func TestSelectOutOfRange(t *testing.T) {
	m := plane.NewManager(memplane.New())
	defer m.Close()

	if err := m.Init("atmel-hlcdc", testSpec); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Select(2); err == nil {
		t.Fatalf("expected error selecting buffer 2 of 2")
	}
	if err := m.Select(1); err != nil {
		t.Fatalf("Select(1): %v", err)
	}
}

func TestParseFormatAndType(t *testing.T) {
	for _, tc := range []struct {
		name string
		want plane.Format
		bpp  int
	}{
		{"RGB565", plane.FormatRGB565, 2},
		{"rgb888", plane.FormatRGB888, 3},
		{"XRGB8888", plane.FormatXRGB8888, 4},
		{"argb8888", plane.FormatARGB8888, 4},
	} {
		got, err := plane.ParseFormat(tc.name)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", tc.name, err)
		}
		if got != tc.want || got.BytesPerPixel() != tc.bpp {
			t.Fatalf("ParseFormat(%q) = %s (%d bpp)", tc.name, got, got.BytesPerPixel())
		}
	}
	if _, err := plane.ParseFormat("YUYV"); err == nil {
		t.Fatalf("expected error for YUYV")
	}
	if plane.FormatRGB565 != plane.Format(0x36314752) {
		t.Fatalf("RGB565 fourcc mismatch: %#x", uint32(plane.FormatRGB565))
	}

	typ, err := plane.ParseType("Primary")
	if err != nil || typ != plane.TypePrimary {
		t.Fatalf("ParseType(Primary) = %v, %v", typ, err)
	}
	if _, err := plane.ParseType("underlay"); err == nil {
		t.Fatalf("expected error for underlay")
	}
}
