// Package config holds the runtime configuration: the defaults the display
// is built for, optionally overlaid with a YAML or TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/tinyrange/planeui/internal/plane"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

const (
	BackendLibplanes = "libplanes"
	BackendMemory    = "memory"

	InputLibinput = "libinput"
	InputNone     = "none"

	EngineLVGL        = "lvgl"
	EngineTestPattern = "testpattern"

	FormatText = "text"
	FormatJSON = "json"
	FormatAuto = "auto"
)

// Duration is a time.Duration written as "1ms", "33ms" and so on.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

type Plane struct {
	Type    string `yaml:"type" toml:"type"`
	Index   int    `yaml:"index" toml:"index"`
	Width   int    `yaml:"width" toml:"width"`
	Height  int    `yaml:"height" toml:"height"`
	Format  string `yaml:"format" toml:"format"`
	Buffers int    `yaml:"buffers" toml:"buffers"`
	X       int    `yaml:"x" toml:"x"`
	Y       int    `yaml:"y" toml:"y"`
}

type Device struct {
	Backend string `yaml:"backend" toml:"backend"`
	Name    string `yaml:"name" toml:"name"`
	Plane   Plane  `yaml:"plane" toml:"plane"`
}

type Input struct {
	Backend string `yaml:"backend" toml:"backend"`
	Seat    string `yaml:"seat" toml:"seat"`
}

type Tick struct {
	Interval  Duration `yaml:"interval" toml:"interval"`
	Increment uint32   `yaml:"increment" toml:"increment"`
}

type UI struct {
	Engine string   `yaml:"engine" toml:"engine"`
	Period Duration `yaml:"period" toml:"period"`
	Demo   bool     `yaml:"demo" toml:"demo"`
}

// Libraries overrides the shared object names loaded at runtime.
type Libraries struct {
	Planes string `yaml:"planes" toml:"planes"`
	DRM    string `yaml:"drm" toml:"drm"`
	Input  string `yaml:"input" toml:"input"`
	Udev   string `yaml:"udev" toml:"udev"`
	LVGL   string `yaml:"lvgl" toml:"lvgl"`
}

type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type Config struct {
	Device    Device    `yaml:"device" toml:"device"`
	Input     Input     `yaml:"input" toml:"input"`
	Tick      Tick      `yaml:"tick" toml:"tick"`
	UI        UI        `yaml:"ui" toml:"ui"`
	Libraries Libraries `yaml:"libraries" toml:"libraries"`
	Log       Log       `yaml:"log" toml:"log"`

	// Trace is a file to record loop timings into. Empty disables tracing.
	Trace string `yaml:"trace" toml:"trace"`
}

// Default is the 800x480 RGB565 double buffered panel on the primary
// plane of atmel-hlcdc.
func Default() Config {
	return Config{
		Device: Device{
			Backend: BackendLibplanes,
			Name:    "atmel-hlcdc",
			Plane: Plane{
				Type:    plane.TypePrimary.String(),
				Index:   0,
				Width:   800,
				Height:  480,
				Format:  plane.FormatRGB565.String(),
				Buffers: 2,
			},
		},
		Input: Input{
			Backend: InputLibinput,
			Seat:    "seat0",
		},
		Tick: Tick{
			Interval:  Duration(time.Millisecond),
			Increment: 1,
		},
		UI: UI{
			Engine: EngineLVGL,
			Period: Duration(33 * time.Millisecond),
			Demo:   true,
		},
		Log: Log{
			Level:  "info",
			Format: FormatAuto,
		},
	}
}

// Load overlays the file at path onto Default. The decoder is chosen by
// extension and unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("config: %s: unknown extension %q", path, ext)
	}

	return cfg, nil
}

// PlaneSpec converts the plane section.
func (c Config) PlaneSpec() (plane.Spec, error) {
	typ, err := plane.ParseType(c.Device.Plane.Type)
	if err != nil {
		return plane.Spec{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	format, err := plane.ParseFormat(c.Device.Plane.Format)
	if err != nil {
		return plane.Spec{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return plane.Spec{
		Type:        typ,
		Index:       c.Device.Plane.Index,
		Width:       c.Device.Plane.Width,
		Height:      c.Device.Plane.Height,
		Format:      format,
		BufferCount: c.Device.Plane.Buffers,
	}, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	p := c.Device.Plane
	if p.Width <= 0 || p.Height <= 0 {
		bad("plane size %dx%d", p.Width, p.Height)
	}
	if p.Buffers < 1 || p.Buffers > 3 {
		bad("plane buffers %d not in 1..3", p.Buffers)
	}
	if p.Index < 0 {
		bad("plane index %d", p.Index)
	}
	if _, err := plane.ParseType(p.Type); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if _, err := plane.ParseFormat(p.Format); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if c.Device.Name == "" {
		bad("empty device name")
	}

	switch c.Device.Backend {
	case BackendLibplanes, BackendMemory:
	default:
		bad("device backend %q", c.Device.Backend)
	}
	switch c.Input.Backend {
	case InputLibinput, InputNone:
	default:
		bad("input backend %q", c.Input.Backend)
	}
	switch c.UI.Engine {
	case EngineLVGL, EngineTestPattern:
	default:
		bad("ui engine %q", c.UI.Engine)
	}

	if c.Tick.Interval <= 0 {
		bad("tick interval %s", c.Tick.Interval)
	}
	if c.Tick.Increment == 0 {
		bad("tick increment 0")
	}
	if c.UI.Period <= 0 {
		bad("ui period %s", c.UI.Period)
	}

	switch c.Log.Format {
	case FormatAuto, FormatText, FormatJSON:
	default:
		bad("log format %q", c.Log.Format)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	return errors.Join(errs...)
}
