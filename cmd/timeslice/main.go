package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/tinyrange/planeui/internal/timeslice"
)

type phaseSummary struct {
	Phase string
	Count int
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
	Over  int
}

func (s *phaseSummary) String() string {
	return fmt.Sprintf("% 12s count=% 8d sum=% 16s min=% 14s max=% 14s avg=% 14s over=% 6d",
		s.Phase, s.Count,
		s.Sum,
		s.Min,
		s.Max,
		s.Sum/time.Duration(s.Count),
		s.Over,
	)
}

func (s *phaseSummary) Add(d, budget time.Duration) {
	s.Count++
	s.Sum += d
	if s.Count == 1 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	if budget > 0 && d > budget {
		s.Over++
	}
}

type summary struct {
	phases     map[string]*phaseSummary
	order      []string
	iterations map[uint32]struct{}
}

func summarize(r io.Reader, budget time.Duration) (*summary, error) {
	s := &summary{
		phases:     map[string]*phaseSummary{},
		iterations: map[uint32]struct{}{},
	}
	err := timeslice.ReadAll(r, func(sample timeslice.Sample) error {
		p, ok := s.phases[sample.Phase]
		if !ok {
			p = &phaseSummary{Phase: sample.Phase}
			s.phases[sample.Phase] = p
			s.order = append(s.order, sample.Phase)
		}
		p.Add(sample.Duration, budget)
		s.iterations[sample.Iteration] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *summary) write(w io.Writer, byTotal bool) {
	order := append([]string(nil), s.order...)
	if byTotal {
		sort.SliceStable(order, func(i, j int) bool {
			return s.phases[order[i]].Sum > s.phases[order[j]].Sum
		})
	}
	fmt.Fprintf(w, "iterations=%d\n", len(s.iterations))
	for _, name := range order {
		fmt.Fprintf(w, "%s\n", s.phases[name].String())
	}
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	filename := fs.String("filename", "", "Loop trace file to read")
	sums := fs.Bool("sums", false, "Print per-phase summaries instead of every record")
	byTotal := fs.Bool("by-total", false, "Order summaries by total time spent")
	budget := fs.Duration("budget", 0, "Count records longer than this as over budget")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if *filename == "" {
		fs.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open trace file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	if *sums {
		s, err := summarize(f, *budget)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read trace file: %v\n", err)
			os.Exit(1)
		}
		s.write(os.Stdout, *byTotal)
		return
	}

	if err := timeslice.ReadAll(f, func(sample timeslice.Sample) error {
		fmt.Printf("%d %s %s\n", sample.Iteration, sample.Phase, sample.Duration)
		return nil
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read trace file: %v\n", err)
		os.Exit(1)
	}
}
