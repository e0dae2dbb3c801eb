// Package logging wires every flexcore component to the standard
// library's log package with a bracketed component tag prefix
// ("[store]", "[session]", ...) and a level gate (see DESIGN.md's
// standard-library justification for this package).
package logging

import (
	"io"
	"log"
	"os"
)

// Level gates which messages reach the underlying writer.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is a component-tagged, level-gated wrapper around *log.Logger.
type Logger struct {
	level Level
	inner *log.Logger
}

// New returns a Logger writing to w (os.Stderr if w is nil) with messages
// prefixed "[component] ", gated at level.
func New(component string, level Level, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		level: level,
		inner: log.New(w, "["+component+"] ", log.LstdFlags),
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	l.inner.Printf(format, args...)
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }

// Discard is a Logger that drops every message, useful in tests.
var Discard = New("discard", LevelError+1, io.Discard)
