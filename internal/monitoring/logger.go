// Package monitoring holds the diagnostic logger shared by the analysis and
// calibration packages.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that tags every line with [name]. The returned
// function resolves Logf on each call, so SetLogger applies to it as well.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// Warnf logs a warning for the named component.
func Warnf(component, format string, v ...interface{}) {
	Logf("["+component+"] WARNING: "+format, v...)
}
