// Package logging configures the process-wide structured logger.
//
// The teacher repository writes plain fmt output straight to stderr and
// carries no logging library; chet adopts zerolog (already present in
// the wider example pack as a dependency of session-oriented agent
// runtimes) for leveled, structured diagnostics around retry attempts,
// hook execution, permission decisions, and session I/O.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a logger writing to w at the given verbosity. verbose=true
// lowers the level to debug; otherwise info is the default floor.
func New(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// Default returns a logger writing to stderr at info level, used by
// packages that are not handed a logger explicitly (e.g. library code
// exercised from tests).
func Default() zerolog.Logger {
	return New(os.Stderr, false)
}
