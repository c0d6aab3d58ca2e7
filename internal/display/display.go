// Package display connects a UI engine's flush callback to the plane.
package display

import (
	"log/slog"

	"github.com/tinyrange/planeui/internal/timeslice"
	"github.com/tinyrange/planeui/internal/ui"
)

var PhaseCommit = timeslice.RegisterPhase("commit")

// Committer publishes a rendered buffer. *plane.Manager implements it.
type Committer interface {
	Present(pixels []byte) error
}

// Acknowledger releases the buffer back to the engine. ui.Display
// implements it.
type Acknowledger interface {
	FlushReady()
}

// Adapter commits every flushed frame and acknowledges it.
type Adapter struct {
	plane Committer
	ack   Acknowledger
	trace *timeslice.Trace

	commits  int
	failures int
}

var _ ui.FlushHandler = (*Adapter)(nil)

func NewAdapter(plane Committer, ack Acknowledger) *Adapter {
	return &Adapter{plane: plane, ack: ack}
}

// SetTrace records the duration of each commit into t.
func (a *Adapter) SetTrace(t *timeslice.Trace) { a.trace = t }

// Flush ignores area. In direct render mode pixels always hold a full
// frame. The engine is acknowledged even when the commit fails.
func (a *Adapter) Flush(area ui.Area, pixels []byte) {
	sw := a.trace.Stopwatch()
	if err := a.plane.Present(pixels); err != nil {
		a.failures++
		slog.Error("display: commit failed", "area", area, "error", err)
	} else {
		a.commits++
	}
	sw.Lap(PhaseCommit)
	a.ack.FlushReady()
}

// Commits returns the number of successful commits.
func (a *Adapter) Commits() int { return a.commits }

// Failures returns the number of failed commits.
func (a *Adapter) Failures() int { return a.failures }
