// Package dispatchlog implements the structured per-action logger described
// in spec §6 (result records) and modeled on lava_dispatcher's YAMLLogger
// (action.py: log_action_results, and the action.logger.info/debug split
// between root-level and nested-pipeline messages). It is a thin
// github.com/rs/zerolog wrapper rather than a hand-rolled formatter, the way
// the rest of this pack reaches for a structured-logging library instead of
// fmt.Printf.
package dispatchlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the job-wide structured logger. Actions derive a child logger
// from it via ForAction that carries their level and name as fields.
type Logger struct {
	zl zerolog.Logger
}

// Options configures a new Logger.
type Options struct {
	Writer io.Writer // defaults to os.Stdout
	Level  string    // zerolog level name; defaults to "info"
}

// New builds a Logger from Options.
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// ForAction returns a derived Logger carrying the action's level and name as
// structured fields, mirroring YAMLLogger.setMetadata(level, name).
func (l *Logger) ForAction(level, name string) *Logger {
	return &Logger{zl: l.zl.With().Str("level", level).Str("name", name).Logger()}
}

// Start logs the beginning of an action's run. Root-level actions log at
// Info (visible by default); actions nested inside an internal pipeline log
// at Debug, exactly as lava_dispatcher routes "start: ..." through
// logger.info for the root pipeline and logger.debug otherwise.
func (l *Logger) Start(isRoot bool, level, name string, maxSeconds int) {
	ev := l.eventFor(isRoot)
	ev.Int("max_seconds", maxSeconds).Msgf("start: %s %s (max %ds)", level, name, maxSeconds)
}

// Duration logs the completion of an action's run with its elapsed time.
func (l *Logger) Duration(isRoot bool, name string, elapsed time.Duration) {
	ev := l.eventFor(isRoot)
	ev.Float64("duration", elapsed.Seconds()).Msgf("%s duration: %.02f", name, elapsed.Seconds())
}

func (l *Logger) eventFor(isRoot bool) *zerolog.Event {
	if isRoot {
		return l.zl.Info()
	}
	return l.zl.Debug()
}

// Info logs a plain informational message.
func (l *Logger) Info(msg string) { l.zl.Info().Msg(msg) }

// Debug logs a plain debug message.
func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }

// Error logs an error with context, mirroring logger.exception.
func (l *Logger) Error(err error, msg string) {
	l.zl.Error().Err(err).Msg(msg)
}

// Result logs a structured result record, the YAMLLogger.results() method's
// equivalent: {definition, case, level, duration, result, extra}.
func (l *Logger) Result(rec Record) {
	l.zl.Log().
		Str("definition", rec.Definition).
		Str("case", rec.Case).
		Str("level", rec.Level).
		Float64("duration", rec.Duration.Seconds()).
		Str("result", rec.Result).
		Interface("extra", rec.Extra).
		Msg("result")
}

// Record is the structured result record shape required by spec §6.
type Record struct {
	Definition string
	Case       string
	Level      string
	Duration   time.Duration
	Result     string // "pass" or "fail"
	Extra      map[string]any
}
