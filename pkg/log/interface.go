// Package log provides a structured logging interface for GoGP training and
// inference operations.
//
// This package defines a minimal logging interface that allows for flexible
// implementation switching while providing ML-specific structured logging
// capabilities. The default implementation is backed by zerolog.
//
// Key features:
//   - Implementation-agnostic Logger interface
//   - ML-specific structured attributes (steps, epochs, objective terms)
//   - Context-aware logging with field chaining
//   - Test-friendly with configurable output destinations
//
// Example usage:
//
//	logger := log.GetLogger().With(
//	    log.ModelNameKey, "GaussianProcess",
//	)
//	logger.Info("Training started",
//	    log.OperationKey, "fit",
//	    log.SamplesKey, 1000,
//	)
package log

// Logger defines a structured logging interface.
//
// The interface supports method chaining through the With method, allowing
// for creation of contextual loggers with pre-populated fields. Fields are
// alternating key-value pairs; keys must be strings.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional structured fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional structured fields.
	Warn(msg string, fields ...any)

	// Error logs an error-level message with optional structured fields.
	// If the first field is an error it is attached as the event's error.
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger
}
