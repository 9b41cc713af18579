// Package jitlog is the narrow logging surface the jitgraph core depends
// on. It mirrors go-logr/logr's Logger shape so any logr-compatible sink
// (klog, zap, zerolog adapters) can back it.
package jitlog

import (
	"github.com/go-logr/logr"
)

// Level is the ordered verbosity set jitgraph logs at.
type Level int

const (
	Disable Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// String renders a Level for flag parsing and diagnostics.
func (l Level) String() string {
	switch l {
	case Disable:
		return "disable"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// Logger is the interface every jitgraph package logs through. It is
// satisfied directly by logr.Logger.
type Logger interface {
	Info(msg string, kvs ...interface{})
	Error(err error, msg string, kvs ...interface{})
	V(level int) logr.Logger
}

// Callback receives each log entry's level, message and key/value pairs
// when a caller registers one via runtime.Options.LogCallback, in
// addition to (not instead of) the logr sink.
type Callback func(level Level, msg string, kvs ...interface{})

// LevelLogger adapts a logr.Logger plus a minimum Level to the ordered
// {Disable,Error,Warn,Info,Debug,Trace} set. Warn has no direct logr
// verbosity equivalent; it is mapped to Info at verbosity 0, a
// documented approximation (see DESIGN.md).
type LevelLogger struct {
	base     logr.Logger
	min      Level
	callback Callback
}

// NewLevelLogger wraps base, filtering everything below min. A nil
// callback disables the secondary sink.
func NewLevelLogger(base logr.Logger, min Level, callback Callback) *LevelLogger {
	return &LevelLogger{base: base, min: min, callback: callback}
}

func (l *LevelLogger) enabled(lvl Level) bool {
	return l.min != Disable && lvl <= l.min
}

// Log emits msg at lvl if the logger's minimum level permits it, fanning
// out to both the base logr sink and the optional callback.
func (l *LevelLogger) Log(lvl Level, msg string, kvs ...interface{}) {
	if !l.enabled(lvl) {
		return
	}
	switch lvl {
	case LevelError:
		l.base.Error(nil, msg, kvs...)
	case LevelWarn:
		l.base.V(0).Info(msg, kvs...)
	case LevelDebug:
		l.base.V(1).Info(msg, kvs...)
	case LevelTrace:
		l.base.V(2).Info(msg, kvs...)
	default:
		l.base.Info(msg, kvs...)
	}
	if l.callback != nil {
		l.callback(lvl, msg, kvs...)
	}
}

// Errorf logs err at LevelError, matching the standard fmt.Errorf(...: %w)
// idiom for the message but routing through the level filter.
func (l *LevelLogger) Errorf(err error, msg string, kvs ...interface{}) {
	if !l.enabled(LevelError) {
		return
	}
	l.base.Error(err, msg, kvs...)
	if l.callback != nil {
		l.callback(LevelError, msg, kvs...)
	}
}

// SetMinLevel changes the stderr minimum level at runtime.
func (l *LevelLogger) SetMinLevel(lvl Level) { l.min = lvl }

// MinLevel reports the current minimum level.
func (l *LevelLogger) MinLevel() Level { return l.min }
