package plane

import (
	"fmt"
	"strings"
)

// Format is a DRM FourCC pixel format code.
type Format uint32

func fourcc(a, b, c, d byte) Format {
	return Format(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	FormatRGB565   = fourcc('R', 'G', '1', '6')
	FormatRGB888   = fourcc('R', 'G', '2', '4')
	FormatXRGB8888 = fourcc('X', 'R', '2', '4')
	FormatARGB8888 = fourcc('A', 'R', '2', '4')
)

var formatNames = map[Format]string{
	FormatRGB565:   "RGB565",
	FormatRGB888:   "RGB888",
	FormatXRGB8888: "XRGB8888",
	FormatARGB8888: "ARGB8888",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%#08x)", uint32(f))
}

// BytesPerPixel returns the storage size of one pixel, or 0 for formats
// this package does not know how to size.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGB565:
		return 2
	case FormatRGB888:
		return 3
	case FormatXRGB8888, FormatARGB8888:
		return 4
	default:
		return 0
	}
}

// ParseFormat accepts the names printed by Format.String, case-insensitively.
func ParseFormat(name string) (Format, error) {
	for f, n := range formatNames {
		if strings.EqualFold(n, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("plane: unknown pixel format %q", name)
}

// Type matches the kernel's DRM_PLANE_TYPE_* values.
type Type int

const (
	TypeOverlay Type = iota
	TypePrimary
	TypeCursor
)

func (t Type) String() string {
	switch t {
	case TypeOverlay:
		return "overlay"
	case TypePrimary:
		return "primary"
	case TypeCursor:
		return "cursor"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "overlay":
		return TypeOverlay, nil
	case "primary":
		return TypePrimary, nil
	case "cursor":
		return TypeCursor, nil
	}
	return 0, fmt.Errorf("plane: unknown plane type %q", name)
}
