// Package logging builds the component loggers used across presslocal.
//
// Engines take a *log.Logger with a bracketed component prefix, nil meaning
// a stderr default. When a log file is configured, output goes to both
// stderr and a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger with the given component prefix, e.g. "[sync] ".
// If logPath is non-empty, output is mirrored to a rotated file.
func New(prefix, logPath string) *log.Logger {
	var w io.Writer = os.Stderr
	if logPath != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		})
	}
	return log.New(w, prefix, log.LstdFlags)
}
