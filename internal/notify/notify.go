// Package notify is the single "show a message to the user" contract.
package notify

import "github.com/sirupsen/logrus"

type Level int

const (
	Success Level = iota + 1
	Error
	Warning
	Info
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Info:
		return "info"
	default:
		return "unknown"
	}
}

type Notifier interface {
	Show(level Level, text string)
}

// Func adapts a plain function to Notifier.
type Func func(level Level, text string)

func (f Func) Show(level Level, text string) { f(level, text) }

// Discard drops every notice.
var Discard Notifier = Func(func(Level, string) {})

// Logger writes notices to a logrus logger. It is used by headless
// consumers that have no banner to draw on.
type Logger struct {
	Log logrus.FieldLogger
}

func NewLogger(log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{Log: log}
}

func (l *Logger) Show(level Level, text string) {
	entry := l.Log.WithField("notice", level.String())
	switch level {
	case Error:
		entry.Error(text)
	case Warning:
		entry.Warn(text)
	default:
		entry.Info(text)
	}
}
