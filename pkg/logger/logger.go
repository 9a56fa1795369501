// Package logger configures logrus output for the trader.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr with the given level and format
// ("text" or "json").
func New(level, format string) (*log.Logger, error) {
	l := log.New()
	l.SetOutput(os.Stderr)
	if err := Setup(l, level, format); err != nil {
		return nil, err
	}
	return l, nil
}

// Setup applies level and format to an existing logger. It may be called
// again to reconfigure; the most recent call wins.
func Setup(l *log.Logger, level, format string) error {
	lvl := log.InfoLevel
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	var formatter log.Formatter
	switch strings.ToLower(format) {
	case "", "text":
		formatter = &log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		}
	case "json":
		formatter = &log.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	default:
		return fmt.Errorf("invalid log format %q: expected text or json", format)
	}

	l.SetLevel(lvl)
	l.SetFormatter(formatter)
	return nil
}
