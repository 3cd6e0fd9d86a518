// Package core defines the small set of interfaces shared across every
// engine package, independent of any single component's concrete types.
package core

// ILogger defines the interface for structured logging. Every engine
// component is coded against this interface rather than a concrete logger,
// so pkg/logging's zap implementation can be swapped for a test double
// without touching component code.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
