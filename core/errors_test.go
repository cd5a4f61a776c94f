package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthError_Error(t *testing.T) {
	err := NewAuthError(CodeInvalidGrant, "Invalid authorization code", ErrCodeUsed)
	assert.Contains(t, err.Error(), "Invalid authorization code")
	assert.Contains(t, err.Error(), ErrCodeUsed.Error())

	bare := NewAuthError(CodeInvalidRequest, "Missing client_id", nil)
	assert.Equal(t, "Missing client_id", bare.Error())
}

func TestAuthError_Unwrap(t *testing.T) {
	err := NewAuthError(CodeInvalidGrant, "expired", ErrExpired)

	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrCodeUsed)
}

func TestAuthError_Fluent(t *testing.T) {
	err := NewAuthError(CodeInvalidClient, "Unknown client", ErrNotFound).
		WithProtocol("oauth").
		WithClientID("kp_abc").
		WithUserID("user123")

	assert.Equal(t, "oauth", err.Protocol)
	assert.Equal(t, "kp_abc", err.ClientID)
	assert.Equal(t, "user123", err.UserID)
}

func TestAuthError_UserMessage(t *testing.T) {
	visible := NewAuthError(CodeAccessDenied, "Access denied", nil)
	assert.Equal(t, "Access denied", visible.UserMessage())

	internal := NewAuthError(CodeServerError, "backing store unreachable", errors.New("dial tcp: refused")).WithInternal()
	assert.Equal(t, "An internal error occurred", internal.UserMessage())
	assert.NotContains(t, internal.UserMessage(), "dial tcp")
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeInvalidGrant, ErrorCode(NewAuthError(CodeInvalidGrant, "used", ErrCodeUsed)))
	assert.Equal(t, CodeServerError, ErrorCode(errors.New("unexpected")))
}
