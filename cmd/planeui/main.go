// Command planeui drives a touchscreen UI on a hardware display plane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/tinyrange/planeui/internal/config"
	"github.com/tinyrange/planeui/internal/input"
	"github.com/tinyrange/planeui/internal/input/libinput"
	"github.com/tinyrange/planeui/internal/plane"
	"github.com/tinyrange/planeui/internal/plane/libplanes"
	"github.com/tinyrange/planeui/internal/plane/memplane"
	"github.com/tinyrange/planeui/internal/runloop"
	"github.com/tinyrange/planeui/internal/timeslice"
	"github.com/tinyrange/planeui/internal/ui"
	"github.com/tinyrange/planeui/internal/ui/lvgl"
	"github.com/tinyrange/planeui/internal/ui/testpattern"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	exitTerminated = 1
	exitFailure    = 1
	exitUsage      = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("planeui", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Configuration file (.yaml, .yml or .toml)")
	engine := fs.String("engine", "", "UI engine (lvgl, testpattern)")
	backend := fs.String("backend", "", "Plane backend (libplanes, memory)")
	inputBackend := fs.String("input", "", "Input backend (libinput, none)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "Log format (auto, text, json)")
	trace := fs.String("trace", "", "Record loop phase timings to this file")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: planeui [flags]\n\n")
		fmt.Fprintf(stderr, "Run the touchscreen UI on a display plane until SIGINT or SIGTERM.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "planeui: %v\n", err)
			return exitUsage
		}
		cfg = loaded
	}
	override(&cfg.UI.Engine, *engine)
	override(&cfg.Device.Backend, *backend)
	override(&cfg.Input.Backend, *inputBackend)
	override(&cfg.Log.Level, *logLevel)
	override(&cfg.Log.Format, *logFormat)
	override(&cfg.Trace, *trace)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "planeui: %v\n", err)
		return exitUsage
	}
	spec, err := cfg.PlaneSpec()
	if err != nil {
		fmt.Fprintf(stderr, "planeui: %v\n", err)
		return exitUsage
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	slog.SetDefault(newLogger(stderr, cfg.Log.Format, level))

	if err := serve(ctx, cfg, spec); err != nil {
		if errors.Is(err, context.Canceled) {
			return exitTerminated
		}
		fmt.Fprintf(stderr, "planeui: %v\n", err)
		return exitFailure
	}
	return exitTerminated
}

func override(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.FormatAuto {
		format = config.FormatJSON
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = config.FormatText
		}
	}
	if format == config.FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func serve(ctx context.Context, cfg config.Config, spec plane.Spec) error {
	planes, err := openPlanes(cfg)
	if err != nil {
		return err
	}

	var tr *timeslice.Trace
	if cfg.Trace != "" {
		f, err := os.Create(cfg.Trace)
		if err != nil {
			return fmt.Errorf("create trace: %w", err)
		}
		defer f.Close()
		tr, err = timeslice.Open(f)
		if err != nil {
			return err
		}
		defer func() {
			if err := tr.Close(); err != nil {
				slog.Warn("planeui: trace incomplete", "error", err)
			}
		}()
	}

	rt := runloop.New(runloop.Deps{
		Planes:    planes,
		OpenInput: inputOpener(cfg, spec),
		Engine:    newEngine(cfg),
	}, runloop.Options{
		Device:        cfg.Device.Name,
		Plane:         spec,
		X:             cfg.Device.Plane.X,
		Y:             cfg.Device.Plane.Y,
		TickInterval:  cfg.Tick.Interval.D(),
		TickIncrement: cfg.Tick.Increment,
		Period:        cfg.UI.Period.D(),
		Demo:          cfg.UI.Demo,
		Trace:         tr,
	})
	if err := rt.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	err = rt.Run(ctx)
	slog.Info("planeui: stopped",
		"commits", rt.Adapter().Commits(),
		"failed_commits", rt.Adapter().Failures())
	return err
}

func openPlanes(cfg config.Config) (plane.Library, error) {
	if cfg.Device.Backend == config.BackendMemory {
		return memplane.New(), nil
	}
	lib, err := libplanes.Open(cfg.Libraries.Planes, cfg.Libraries.DRM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", plane.ErrDeviceOpen, err)
	}
	return lib, nil
}

func inputOpener(cfg config.Config, spec plane.Spec) runloop.InputOpener {
	if cfg.Input.Backend == config.InputNone {
		return nil
	}
	return func() (input.Source, error) {
		src, err := libinput.Open(libinput.Options{
			InputLibrary: cfg.Libraries.Input,
			UdevLibrary:  cfg.Libraries.Udev,
			Seat:         cfg.Input.Seat,
			Width:        spec.Width,
			Height:       spec.Height,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func newEngine(cfg config.Config) ui.Engine {
	if cfg.UI.Engine == config.EngineTestPattern {
		return testpattern.New(cfg.UI.Period.D())
	}
	return lvgl.New(cfg.Libraries.LVGL, cfg.UI.Period.D())
}
