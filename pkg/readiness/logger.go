package readiness

import (
	sdklog "github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

// Logger is the key/value logger the engine writes to. The Grafana SDK
// logger satisfies it.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

func defaultLogger() Logger {
	return sdklog.DefaultLogger
}

type nopLogger struct{}

// NopLogger discards everything.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
