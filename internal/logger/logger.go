// Package logger wraps github.com/sirupsen/logrus in the small interface
// the rest of the service depends on, generalized from the teacher's own
// logger package (which the teacher keeps on the standard library's `log`
// today) to the structured logrus usage the teacher already carries as a
// direct dependency for other subsystems. Run-path log lines carry
// job_name and run_id fields so a single run's output can be grepped out
// of the combined stream.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal surface the Scheduler, Executor, and Control API
// log through.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	WithJob(jobName, runID string) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds the root Logger. level is one of logrus's parseable level
// strings ("debug", "info", "warn", "error"); an unparseable value falls
// back to info. logFile, if non-empty, is opened for append and used as the
// log output instead of stderr; a file that can't be opened falls back to
// stderr rather than failing startup.
func New(level string, logFile ...string) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	if len(logFile) > 0 && logFile[0] != "" {
		if f, err := os.OpenFile(logFile[0], os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			l.SetOutput(f)
		} else {
			l.Warnf("log_file %q: %v, logging to stderr", logFile[0], err)
		}
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithJob(jobName, runID string) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields{
		"job_name": jobName,
		"run_id":   runID,
	})}
}
