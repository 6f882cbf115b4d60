package obs

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
		},
	})
	return l
}

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) {
	if v {
		base.SetLevel(logrus.DebugLevel)
		return
	}
	base.SetLevel(logrus.InfoLevel)
}

type Fields = logrus.Fields

// Logger exposes the underlying logger so tests and tools can redirect output.
func Logger() *logrus.Logger { return base }

func Info(msg string, f Fields)  { base.WithFields(f).Info(msg) }
func Error(msg string, f Fields) { base.WithFields(f).Error(msg) }
func Debug(msg string, f Fields) { base.WithFields(f).Debug(msg) }
