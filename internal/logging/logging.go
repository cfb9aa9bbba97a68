// Package logging builds the zerolog logger shared by socksbridge components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	// Level is one of trace, debug, info, warn, error. Empty means info.
	Level string
	// JSON selects JSON lines instead of the console format.
	JSON bool
	// Out defaults to os.Stderr.
	Out io.Writer
}

// New returns a logger writing to cfg.Out.
func New(cfg Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	if !cfg.JSON {
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
		cw.FormatLevel = func(i any) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		}
		out = cw
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// Writer adapts a logger for APIs that want an io.Writer, such as
// log.Logger used by http.Server.ErrorLog. Each write becomes one event.
type Writer struct {
	Logger zerolog.Logger
	Level  zerolog.Level
}

func (w Writer) Write(p []byte) (int, error) {
	w.Logger.WithLevel(w.Level).Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
