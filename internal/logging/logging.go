// Package logging hands out component loggers that share one destination:
// stderr, nothing, or a size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the destination.
type Options struct {
	// File, when set, receives all log output with rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int

	// Verbose also writes to stderr. Without a File and without Verbose,
	// output is discarded.
	Verbose bool
}

// Factory creates loggers writing to a shared destination.
type Factory struct {
	w      io.Writer
	rotate *lumberjack.Logger
}

// New creates a Factory for opts.
func New(opts Options) *Factory {
	f := &Factory{w: io.Discard}

	var writers []io.Writer
	if opts.File != "" {
		f.rotate = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		writers = append(writers, f.rotate)
	}
	if opts.Verbose {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
	case 1:
		f.w = writers[0]
	default:
		f.w = io.MultiWriter(writers...)
	}
	return f
}

// Logger returns a logger prefixed with "[component] ".
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared destination.
func (f *Factory) Writer() io.Writer {
	return f.w
}

// Close flushes and closes the log file, if any.
func (f *Factory) Close() error {
	if f.rotate == nil {
		return nil
	}
	return f.rotate.Close()
}
