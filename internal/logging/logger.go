package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger and installs it as the default context logger.
func New(level string) zerolog.Logger {
	return newLogger(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, level)
}

func newLogger(out io.Writer, level string) zerolog.Logger {
	ll, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || ll == zerolog.NoLevel {
		ll = zerolog.InfoLevel
	}
	logger := zerolog.New(out).With().Timestamp().Logger().Level(ll)
	zerolog.DefaultContextLogger = &logger
	return logger
}
