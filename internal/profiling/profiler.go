// Package profiling captures CPU, heap and execution-trace profiles around
// one CLI invocation, typically a large ingest.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options names the output files. Empty paths are skipped.
type Options struct {
	CPU   string
	Mem   string
	Trace string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Mem != "" || o.Trace != ""
}

// Session is a running profile capture.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins CPU profiling and tracing as requested. On error nothing is
// left running.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}

	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			s.stopCPU()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopCPU()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		s.traceFile = f
	}

	return s, nil
}

// Stop ends CPU profiling and tracing, then writes the heap profile.
// Safe to call more than once.
func (s *Session) Stop() error {
	var errs []error
	errs = append(errs, s.stopCPU())
	if s.traceFile != nil {
		trace.Stop()
		errs = append(errs, s.traceFile.Close())
		s.traceFile = nil
	}
	if s.opts.Mem != "" {
		errs = append(errs, WriteHeap(s.opts.Mem))
		s.opts.Mem = ""
	}
	return errors.Join(errs...)
}

func (s *Session) stopCPU() error {
	if s.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := s.cpuFile.Close()
	s.cpuFile = nil
	return err
}

// WriteHeap writes a heap profile after a forced GC.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}
