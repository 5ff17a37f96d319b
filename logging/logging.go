package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel  = "MSGRELAY_LOG_LEVEL"
	EnvLogFormat = "MSGRELAY_LOG_FORMAT"

	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options selects level and output encoding. Environment variables win over
// the values set here.
type Options struct {
	App    string
	Level  string
	Format string
	Out    io.Writer
}

// New builds the process logger and installs it as the zerolog global.
func New(options Options) zerolog.Logger {
	applyEnvOverrides(&options)

	out := options.Out
	if out == nil {
		out = os.Stdout
	}

	var writer io.Writer = out
	if !strings.EqualFold(options.Format, FormatJSON) {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	level, ok := ParseLevel(options.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(writer).Level(level).With().Timestamp()
	if options.App != "" {
		ctx = ctx.Str("app", options.App)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func applyEnvOverrides(options *Options) {
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		if _, ok := ParseLevel(raw); ok {
			options.Level = raw
		}
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))) {
	case FormatJSON:
		options.Format = FormatJSON
	case FormatConsole:
		options.Format = FormatConsole
	}
}

// ParseLevel maps a config or env value onto a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
