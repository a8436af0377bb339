package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the process-wide slog default logger from the logging
// configuration section.
//
// format: "json" selects a JSONHandler (machine readable, the production
// default); anything else selects a TextHandler for local development.
//
// level: "debug", "info", "warn"/"warning", "error" (case-insensitive);
// unrecognised values fall back to "info". At debug level records carry
// file:line source attribution.
//
// output: "stdout" (also the empty-string default), "stderr", or a file path
// opened for append. A file that cannot be opened falls back to stdout with a
// warning rather than failing startup.
//
// The logger is installed as the default so slog.Info/Warn/Error calls across
// the codebase pick it up without threading a *slog.Logger through every
// constructor.
func SetupLogger(format, level, output string) {
	w, fallbackWarn := openLogOutput(output)
	slog.SetDefault(slog.New(NewLogHandler(w, format, level)))
	if fallbackWarn != "" {
		slog.Warn("log output unavailable, using stdout", "output", output, "error", fallbackWarn)
	}
	slog.Info("logger initialised", "format", format, "level", parseLogLevel(level).String(), "output", outputName(output))
}

// NewLogHandler builds a slog handler over w with the same format and level
// semantics as SetupLogger. Split out so tests can capture records in a buffer.
func NewLogHandler(w io.Writer, format, level string) slog.Handler {
	lvl := parseLogLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogOutput(output string) (w io.Writer, fallbackWarn string) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, ""
	case "stderr":
		return os.Stderr, ""
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout, err.Error()
	}
	return f, ""
}

func outputName(output string) string {
	if output == "" {
		return "stdout"
	}
	return output
}
