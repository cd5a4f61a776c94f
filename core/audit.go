package core

import (
	"time"

	"github.com/google/uuid"
)

// NewAuditEvent creates a new AuditEvent with common fields pre-populated.
// This is a convenience function that generates a unique EventID and sets
// the timestamp.
//
// Usage:
//
//	event := core.NewAuditEvent(
//	    core.EventCodeRedeem,
//	    "oauth",
//	    "user123",
//	    core.OutcomeSuccess,
//	)
func NewAuditEvent(eventType, protocol, userID, outcome string) AuditEvent {
	return AuditEvent{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Protocol:  protocol,
		UserID:    userID,
		Outcome:   outcome,
		Metadata:  make(map[string]interface{}),
	}
}

// WithReason attaches a machine-readable reason code to the event.
func (e AuditEvent) WithReason(reason string) AuditEvent {
	e.Reason = reason
	return e
}

// WithClientID attaches the OAuth client context to the event.
func (e AuditEvent) WithClientID(clientID string) AuditEvent {
	e.ClientID = clientID
	return e
}

// WithCredentialID attaches the WebAuthn credential context to the event.
func (e AuditEvent) WithCredentialID(credentialID string) AuditEvent {
	e.CredentialID = credentialID
	return e
}

// WithMetadata attaches a single metadata key-value pair to the event.
// The value MUST NOT contain sensitive information.
func (e AuditEvent) WithMetadata(key string, value interface{}) AuditEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}
