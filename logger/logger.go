// Package logger provides the leveled logging used across the routing core.
package logger

import (
	"fmt"
	"io"
	"log"
	"sync"
)

const (
	LevelError = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

type Logger interface {
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	SetLevel(level int)
	SetOutput(w io.Writer)
}

var _ Logger = new(defaultLogger)

// New returns a Logger tagged with trace, the component name shown on every line.
func New(trace string) Logger {
	return &defaultLogger{level: LevelInfo, trace: fmt.Sprintf("[%s]", trace)}
}

type defaultLogger struct {
	m     sync.Mutex
	level int
	trace string
}

const callDepth = 3

func (l *defaultLogger) SetLevel(level int) {
	l.m.Lock()
	l.level = level
	l.m.Unlock()
}

func (l *defaultLogger) SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func (l *defaultLogger) output(s string) {
	_ = log.Output(callDepth, s)
}

func (l *defaultLogger) Error(v ...interface{}) {
	if l.level >= LevelError {
		l.output(fmt.Sprintln(append([]interface{}{l.trace, "[ERROR]"}, v...)...))
	}
}

func (l *defaultLogger) Errorf(format string, v ...interface{}) {
	if l.level >= LevelError {
		l.Error(fmt.Sprintf(format, v...))
	}
}

func (l *defaultLogger) Warn(v ...interface{}) {
	if l.level >= LevelWarn {
		l.output(fmt.Sprintln(append([]interface{}{l.trace, "[WARN]"}, v...)...))
	}
}

func (l *defaultLogger) Warnf(format string, v ...interface{}) {
	if l.level >= LevelWarn {
		l.Warn(fmt.Sprintf(format, v...))
	}
}

func (l *defaultLogger) Info(v ...interface{}) {
	if l.level >= LevelInfo {
		l.output(fmt.Sprintln(append([]interface{}{l.trace, "[INFO]"}, v...)...))
	}
}

func (l *defaultLogger) Infof(format string, v ...interface{}) {
	if l.level >= LevelInfo {
		l.Info(fmt.Sprintf(format, v...))
	}
}

func (l *defaultLogger) Debug(v ...interface{}) {
	if l.level >= LevelDebug {
		l.output(fmt.Sprintln(append([]interface{}{l.trace, "[DEBUG]"}, v...)...))
	}
}

func (l *defaultLogger) Debugf(format string, v ...interface{}) {
	if l.level >= LevelDebug {
		l.Debug(fmt.Sprintf(format, v...))
	}
}

var std = New("sfu")

func Error(v ...interface{})                 { std.Error(v...) }
func Errorf(format string, v ...interface{}) { std.Errorf(format, v...) }
func Warn(v ...interface{})                  { std.Warn(v...) }
func Warnf(format string, v ...interface{})  { std.Warnf(format, v...) }
func Info(v ...interface{})                  { std.Info(v...) }
func Infof(format string, v ...interface{})  { std.Infof(format, v...) }
func Debug(v ...interface{})                 { std.Debug(v...) }
func Debugf(format string, v ...interface{}) { std.Debugf(format, v...) }
func SetLevel(level int)                     { std.SetLevel(level) }
func SetOutput(w io.Writer)                  { std.SetOutput(w) }
