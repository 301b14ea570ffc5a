/*
Package logx wraps zerolog for the whole server.

InitGlobalLogger picks the output format from the environment (console for development,
JSON otherwise) and the level from configuration. The package-level helpers accept
alternating key/value fields so call sites stay short; engine components build their own
child loggers with Component.
*/
package logx

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitGlobalLogger configures the global zerolog instance.
// An empty level means debug in development and info otherwise.
func InitGlobalLogger(isDevelopment bool, level string) error {
	lvl := zerolog.InfoLevel
	if isDevelopment {
		lvl = zerolog.DebugLevel
	}

	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(os.Stdout)
	if isDevelopment {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	log.Logger = logger.Level(lvl).With().Timestamp().Caller().Logger()
	return nil
}

// Logger returns the global logger.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child of the global logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// Silence drops everything below the Error level. Tests use it to keep output readable.
func Silence() {
	log.Logger = log.Logger.Level(zerolog.ErrorLevel)
}

// checkFields returns nil for an odd field count, which zerolog would otherwise misalign.
func checkFields(level string, fields []any) []any {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Str("log_level", level).
			Msgf("Logx call (%s) received odd number of fields: %v. Fields ignored.", level, fields)
		return nil
	}
	return fields
}

func emit(ev *zerolog.Event, level, msg string, fields []any) {
	ev.Fields(checkFields(level, fields)).
		CallerSkipFrame(2).
		Msg(msg)
}

// Debug logs msg with key/value fields at the Debug level.
func Debug(msg string, fields ...any) {
	emit(Logger().Debug(), "Debug", msg, fields)
}

// Info logs msg with key/value fields at the Info level.
func Info(msg string, fields ...any) {
	emit(Logger().Info(), "Info", msg, fields)
}

// Warn logs msg with key/value fields at the Warn level.
func Warn(msg string, fields ...any) {
	emit(Logger().Warn(), "Warn", msg, fields)
}

// Error logs err and msg at the Error level.
func Error(err error, msg string, fields ...any) {
	emit(Logger().Error().Err(err), "Error", msg, fields)
}

// Fatal logs err and msg, then exits the process with status 1.
func Fatal(err error, msg string, fields ...any) {
	emit(Logger().Fatal().Err(err), "Fatal", msg, fields)
}
