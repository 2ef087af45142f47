// Package logging configures the logrus logger shared by every component.
//
// Usage:
//
//	log := logging.New("iptv-catalog", cfg.LogLevel, cfg.LogFormat)
//	log.WithField("source", "panel").Warn("action failed")
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger pre-configured for a named service. level is a logrus
// level name (default info); format "json" selects the JSON formatter, anything
// else the text formatter. The service field is embedded in every log line.
func New(service, level, format string) *logrus.Entry {
	return NewWithOutput(os.Stderr, service, level, format)
}

// NewWithOutput is New writing to w.
func NewWithOutput(w io.Writer, service, level, format string) *logrus.Entry {
	log := logrus.New()
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(w)

	lvl, err := logrus.ParseLevel(level)
	if err != nil || level == "" {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log.WithField("service", service)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Entry {
	return NewWithOutput(io.Discard, "test", "panic", "text")
}
