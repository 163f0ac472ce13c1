// Package logging provides the line-oriented connection, stats, debug,
// and error-level log sinks, built on github.com/rs/zerolog. The
// EXPIRED/IDLE/STATS record shapes (stable, key=value with ", "
// separators) are assembled by the caller (records.go in the root
// package) in a fixed field order; Sinks only owns where the resulting
// line goes and at what level, which is why Conn and Stats take an
// already-formatted string rather than a field map.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Sinks groups the four line-oriented log outputs a Worker and Pool need.
// Conn and Stats return an error on write failure so callers can emit a
// warning to the error log without the connection being affected; Dbg
// and Err are fire-and-forget and never fail the caller.
type Sinks interface {
	Conn(line string) error
	Stats(line string) error
	Dbg(format string, args ...any)
	Err(format string, args ...any)
}

// zerologSinks is the default Sinks implementation. Each stream is its
// own zerolog.Logger so EXPIRED/IDLE can go to a connection log while
// STATS goes to a separate stats log.
type zerologSinks struct {
	conn  zerolog.Logger
	stats zerolog.Logger
	dbg   zerolog.Logger
	err   zerolog.Logger
}

var _ Sinks = (*zerologSinks)(nil)

func plainLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Logger()
}

// New builds Sinks writing all four streams to the same writer.
func New(w io.Writer) Sinks {
	l := plainLogger(w)
	return &zerologSinks{conn: l, stats: l, dbg: l, err: l}
}

// NewSplit builds Sinks that route each stream to its own writer, for
// deployments keeping independent connection/stats/debug log files.
func NewSplit(connW, statsW, dbgW, errW io.Writer) Sinks {
	return &zerologSinks{
		conn:  plainLogger(connW),
		stats: plainLogger(statsW),
		dbg:   plainLogger(dbgW),
		err:   plainLogger(errW),
	}
}

// Discard returns Sinks that drop everything, for tests and embedders
// that have not wired real log destinations yet.
func Discard() Sinks {
	return New(io.Discard)
}

// Default is a Sinks writing to stderr, used when an embedder supplies no
// Options.Sinks.
var Default = New(os.Stderr)

// Conn and Stats always return nil: zerolog does not report writer errors
// back to the caller of Msg.
func (s *zerologSinks) Conn(line string) error {
	s.conn.Log().Msg(line)
	return nil
}

func (s *zerologSinks) Stats(line string) error {
	s.stats.Log().Msg(line)
	return nil
}

func (s *zerologSinks) Dbg(format string, args ...any) {
	s.dbg.Debug().Msgf(format, args...)
}

func (s *zerologSinks) Err(format string, args ...any) {
	s.err.Warn().Msgf(format, args...)
}

// DashIfEmpty renders v as "-" when it is the empty string, the record
// convention for unknown values.
func DashIfEmpty(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
