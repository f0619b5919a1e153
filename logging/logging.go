// Package logging configures the module's structured logging. It replaces
// the teacher's logrus-based logger/ package with zerolog throughout
// (SPEC_FULL.md §A.1): the teacher repo mixes logrus and zerolog across its
// history, and zerolog is the one that survived into its newer code
// (fs/delta.go, fs/upload_session.go, cmd/common/config.go all use
// github.com/rs/zerolog/log), so it is the logger this module standardizes
// on.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StringToLevel converts a string to a zerolog.Level in a case-insensitive
// manner, defaulting to InfoLevel on an unrecognized input.
func StringToLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "fatal":
		return zerolog.FatalLevel
	case "error":
		return zerolog.ErrorLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		log.Warn().Str("level", level).Msg("unrecognized log level, defaulting to info")
		return zerolog.InfoLevel
	}
}

// Init sets up the global zerolog logger: a human-readable console writer
// when output is a terminal, structured JSON otherwise, at the given level.
func Init(level zerolog.Level, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	if f, ok := out.(*os.File); ok && isTerminal(f) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// WithVault returns a sub-logger tagged with the owning vault's name, the
// way every component logs its vault field (spec §2's per-vault components).
func WithVault(name string) zerolog.Logger {
	return log.With().Str("vault", name).Logger()
}
