// Package timeslice records how long each phase of the runtime loop takes.
//
// A trace file starts with a header and a JSON table of phase names padded
// to a 4096 byte boundary, followed by fixed size little-endian records.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	Magic   uint32 = 0x544e4c50 // "PLNT"
	Version uint32 = 1
)

const pageSize = 4096

type header struct {
	Magic       uint32
	Version     uint32
	PhaseLength uint32
}

// Phase identifies one kind of recorded interval.
type Phase uint32

const InvalidPhase = Phase(0)

var (
	phasesMu sync.Mutex
	phases   = map[Phase]string{}
)

// RegisterPhase allocates a phase id. Call it from package initialization,
// before any trace is opened.
func RegisterPhase(name string) Phase {
	phasesMu.Lock()
	defer phasesMu.Unlock()

	id := Phase(len(phases) + 1)
	phases[id] = name
	return id
}

func (p Phase) String() string {
	phasesMu.Lock()
	defer phasesMu.Unlock()

	if name, ok := phases[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", uint32(p))
}

type record struct {
	Phase     uint32
	Iteration uint32
	Duration  int64
}

var recordSize = binary.Size(record{})

// ErrClosed is returned when recording into a closed trace.
var ErrClosed = errors.New("timeslice: trace closed")

// Trace streams records to a writer from a background goroutine. A nil
// *Trace is valid and records nothing.
type Trace struct {
	w       io.Writer
	records chan record
	done    chan error

	mu        sync.Mutex
	closed    bool
	iteration uint32
}

// Open writes the file header and starts the writer goroutine.
func Open(w io.Writer) (*Trace, error) {
	phasesMu.Lock()
	table, err := json.Marshal(phases)
	phasesMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal phases: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:       Magic,
		Version:     Version,
		PhaseLength: uint32(len(table)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(table); err != nil {
		return nil, fmt.Errorf("timeslice: write phases: %w", err)
	}

	off := binary.Size(header{}) + len(table)
	if pad := padding(off); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return nil, fmt.Errorf("timeslice: write padding: %w", err)
		}
	}

	t := &Trace{
		w:       w,
		records: make(chan record, pageSize),
		done:    make(chan error, 1),
	}
	go t.run()
	return t, nil
}

func padding(off int) int {
	if off%pageSize == 0 {
		return 0
	}
	return pageSize - off%pageSize
}

func (t *Trace) run() {
	var buf [pageSize]byte
	off := 0

	for rec := range t.records {
		if off+recordSize > len(buf) {
			if _, err := t.w.Write(buf[:off]); err != nil {
				t.done <- err
				// Drain so producers never block on a dead writer.
				for range t.records {
				}
				return
			}
			off = 0
		}
		binary.LittleEndian.PutUint32(buf[off:], rec.Phase)
		binary.LittleEndian.PutUint32(buf[off+4:], rec.Iteration)
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(rec.Duration))
		off += recordSize
	}

	if off > 0 {
		if _, err := t.w.Write(buf[:off]); err != nil {
			t.done <- err
			return
		}
	}
	t.done <- nil
}

// NextIteration starts a new loop iteration. Records carry the iteration
// they were taken in.
func (t *Trace) NextIteration() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.iteration++
	t.mu.Unlock()
}

// Record queues one interval.
func (t *Trace) Record(p Phase, d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.records <- record{Phase: uint32(p), Iteration: t.iteration, Duration: d.Nanoseconds()}
}

// Close flushes queued records and stops the writer goroutine.
func (t *Trace) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true
	close(t.records)
	t.mu.Unlock()

	if err := <-t.done; err != nil {
		return fmt.Errorf("timeslice: write records: %w", err)
	}
	return nil
}

// Stopwatch measures consecutive phases of one goroutine.
type Stopwatch struct {
	trace *Trace
	last  time.Time
}

func (t *Trace) Stopwatch() *Stopwatch {
	return &Stopwatch{trace: t, last: time.Now()}
}

// Lap records the time since the previous lap as phase p.
func (s *Stopwatch) Lap(p Phase) {
	now := time.Now()
	s.trace.Record(p, now.Sub(s.last))
	s.last = now
}

// Reset restarts the stopwatch without recording.
func (s *Stopwatch) Reset() {
	s.last = time.Now()
}

// Sample is one decoded record.
type Sample struct {
	Phase     string
	Iteration uint32
	Duration  time.Duration
}

// ReadAll decodes a trace and calls fn for every record in file order.
func ReadAll(r io.Reader, fn func(Sample) error) error {
	buf := bufio.NewReaderSize(r, pageSize)

	var hdr header
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if hdr.Magic != Magic {
		return fmt.Errorf("timeslice: invalid magic %#x", hdr.Magic)
	}
	if hdr.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", hdr.Version)
	}

	var table map[Phase]string
	if err := json.NewDecoder(io.LimitReader(buf, int64(hdr.PhaseLength))).Decode(&table); err != nil {
		return fmt.Errorf("timeslice: decode phases: %w", err)
	}
	if pad := padding(binary.Size(hdr) + int(hdr.PhaseLength)); pad > 0 {
		if _, err := buf.Discard(pad); err != nil {
			return fmt.Errorf("timeslice: skip padding: %w", err)
		}
	}

	for {
		var rec record
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		name, ok := table[Phase(rec.Phase)]
		if !ok {
			return fmt.Errorf("timeslice: unknown phase %d", rec.Phase)
		}
		if err := fn(Sample{Phase: name, Iteration: rec.Iteration, Duration: time.Duration(rec.Duration)}); err != nil {
			return err
		}
	}
}
