package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.fergus.london/keyra/core"
)

// NopLogger is a no-op implementation of core.AuditLogger that discards all events.
// This is useful when audit logging is not required or for testing.
//
// This implementation has zero overhead and is safe for concurrent use.
type NopLogger struct{}

// NewNopLogger creates a new no-op audit logger.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// Log implements core.AuditLogger by discarding the event.
func (n *NopLogger) Log(ctx context.Context, event core.AuditEvent) error {
	// Intentionally do nothing
	return nil
}

// StdoutLogger is an implementation of core.AuditLogger that writes JSON-formatted
// events to stdout. This is useful for development, debugging, and containerized
// environments where logs are collected from stdout.
//
// This implementation is safe for concurrent use by multiple goroutines.
//
// @mitigation Information Disclosure: The AuditEvent struct is designed to exclude
// sensitive data. This logger outputs the event as-is; ensure no sensitive data
// is added to the Metadata field by calling code.
//
// @risk Denial of Service: In high-traffic scenarios, synchronous writes to stdout
// may become a bottleneck. Consider using buffered or async logging for production.
type StdoutLogger struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewStdoutLogger creates a new stdout audit logger.
//
// If pretty is true, JSON output will be indented for readability.
// For production use, pretty should typically be false to minimize output size.
func NewStdoutLogger(pretty bool) *StdoutLogger {
	logger := &StdoutLogger{
		encoder: json.NewEncoder(os.Stdout),
	}

	if pretty {
		logger.encoder.SetIndent("", "  ")
	}

	return logger
}

// Log implements core.AuditLogger by writing JSON to stdout.
func (s *StdoutLogger) Log(ctx context.Context, event core.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.encoder.Encode(event); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: Failed to encode audit event: %v\n", err)
		return err
	}

	return nil
}

// RecordingLogger is an implementation of core.AuditLogger that retains
// events in memory for later inspection. Useful in tests that assert on
// the audit trail.
//
// This implementation is safe for concurrent use by multiple goroutines.
type RecordingLogger struct {
	mu     sync.Mutex
	events []core.AuditEvent
}

// NewRecordingLogger creates a new recording audit logger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

// Log implements core.AuditLogger by appending the event to the record.
func (r *RecordingLogger) Log(ctx context.Context, event core.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of all recorded events in logging order.
func (r *RecordingLogger) Events() []core.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.AuditEvent(nil), r.events...)
}

// EventsOfType returns recorded events matching the given event type.
func (r *RecordingLogger) EventsOfType(eventType string) []core.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []core.AuditEvent
	for _, event := range r.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// Clear removes all recorded events. Useful for testing.
func (r *RecordingLogger) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
