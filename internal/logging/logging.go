// Package logging builds the logrus loggers shared by the harness packages.
package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05"

// New returns a logger writing to out at the named level. Terminals get the
// text formatter; anything else gets JSON. Unknown levels fall back to info.
func New(level string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
			DisableQuote:    true,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	}
	return log
}

// ForSystem tags every entry with the subsystem name.
func ForSystem(log logrus.FieldLogger, system string) logrus.FieldLogger {
	return log.WithField("system", system)
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
