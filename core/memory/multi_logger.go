package memory

import (
	"context"
	"fmt"

	"go.fergus.london/keyra/core"
)

// MultiLogger fans out audit events to multiple underlying loggers.
// This is useful for sending events to multiple destinations simultaneously
// (e.g., stdout + SIEM, or stdout + a recording logger in tests).
//
// This implementation is safe for concurrent use by multiple goroutines.
//
// All loggers are called in the order they were added. If any logger returns
// an error, the error is collected but logging continues to other loggers.
// All errors are returned as a combined error.
type MultiLogger struct {
	loggers []core.AuditLogger
}

// NewMultiLogger creates a new multi-logger that fans out to multiple loggers.
func NewMultiLogger(loggers ...core.AuditLogger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
	}
}

// AddLogger adds a logger to the multi-logger.
func (m *MultiLogger) AddLogger(logger core.AuditLogger) {
	m.loggers = append(m.loggers, logger)
}

// Log implements core.AuditLogger by calling all underlying loggers.
// Errors from individual loggers are collected and returned as a combined error.
func (m *MultiLogger) Log(ctx context.Context, event core.AuditEvent) error {
	var errs []error

	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return &MultiLoggerError{Errors: errs}
	}

	return nil
}

// MultiLoggerError represents one or more errors from underlying loggers.
type MultiLoggerError struct {
	Errors []error
}

// Error implements the error interface.
func (e *MultiLoggerError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("multi-logger error: %v", e.Errors[0])
	}
	return fmt.Sprintf("multi-logger errors: %d errors occurred", len(e.Errors))
}

// Unwrap returns the underlying errors for errors.Is/As support.
func (e *MultiLoggerError) Unwrap() []error {
	return e.Errors
}
