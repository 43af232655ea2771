// Package logging centralises logrus setup the way the teacher
// constructs its *log.Logger in cmd/releaseparty-api/main.go: one
// constructor, UTC timestamps, an output writer the caller chooses.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Entry prefixed with component, writing JSON
// lines to w (os.Stdout by default) at the given level. level accepts
// any of logrus.ParseLevel's strings ("debug", "info", "warn", ...);
// an unparsable value falls back to info rather than failing startup.
func New(component string, level string, w io.Writer) *logrus.Entry {
	if w == nil {
		w = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(utcFormatter{&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l.WithField("component", component)
}

// utcFormatter converts each entry's time to UTC before the wrapped
// formatter renders it.
type utcFormatter struct{ logrus.Formatter }

func (f utcFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return f.Formatter.Format(e)
}
