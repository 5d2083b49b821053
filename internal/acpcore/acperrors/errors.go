// Package acperrors defines the ACP provider core's error taxonomy.
package acperrors

import (
	"errors"
	"fmt"
)

// Code identifies a member of the error taxonomy.
type Code string

const (
	// CodeConfiguration covers a disabled provider, unknown agent id, or no
	// agents configured.
	CodeConfiguration Code = "CONFIGURATION_ERROR"
	// CodeSpawnFailed covers a child process that could not be started.
	CodeSpawnFailed Code = "SPAWN_FAILED"
	// CodeHandshakeFailed covers an ACP initialize exchange that did not
	// complete within the bounded timeout.
	CodeHandshakeFailed Code = "HANDSHAKE_FAILED"
	// CodeSessionCreationFailed covers a session/new or session/load failure.
	CodeSessionCreationFailed Code = "SESSION_CREATION_FAILED"
	// CodeProtocolError covers a malformed frame or unrecoverable parse
	// failure on an agent connection.
	CodeProtocolError Code = "PROTOCOL_ERROR"
	// CodePromptFailed covers any error returned by a prompt RPC.
	CodePromptFailed Code = "PROMPT_FAILED"
	// CodePermissionCancelled covers a human choosing to cancel a permission
	// request.
	CodePermissionCancelled Code = "PERMISSION_CANCELLED"
	// CodeUserCancellation covers the stream consumer abandoning iteration.
	CodeUserCancellation Code = "USER_CANCELLATION"
)

// Error is the ACP provider core's error type. It carries a taxonomy Code
// and, for transient faults, wraps the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Configuration builds a CodeConfiguration error.
func Configuration(message string) *Error {
	return newErr(CodeConfiguration, message, nil)
}

// SpawnFailed builds a CodeSpawnFailed error wrapping the spawn cause.
func SpawnFailed(agentID string, err error) *Error {
	return newErr(CodeSpawnFailed, fmt.Sprintf("failed to spawn agent %q", agentID), err)
}

// HandshakeFailed builds a CodeHandshakeFailed error wrapping the cause.
func HandshakeFailed(agentID string, err error) *Error {
	return newErr(CodeHandshakeFailed, fmt.Sprintf("initialize handshake failed for agent %q", agentID), err)
}

// SessionCreationFailed builds a CodeSessionCreationFailed error.
func SessionCreationFailed(conversationKey string, err error) *Error {
	return newErr(CodeSessionCreationFailed, fmt.Sprintf("session creation failed for conversation %q", conversationKey), err)
}

// ProtocolError builds a CodeProtocolError error.
func ProtocolError(agentID string, err error) *Error {
	return newErr(CodeProtocolError, fmt.Sprintf("protocol error on agent %q connection", agentID), err)
}

// PromptFailed builds a CodePromptFailed error.
func PromptFailed(conversationKey string, err error) *Error {
	return newErr(CodePromptFailed, fmt.Sprintf("prompt failed for conversation %q", conversationKey), err)
}

// PermissionCancelled builds a CodePermissionCancelled error.
func PermissionCancelled() *Error {
	return newErr(CodePermissionCancelled, "permission request cancelled by user", nil)
}

// UserCancellation builds a CodeUserCancellation error.
func UserCancellation() *Error {
	return newErr(CodeUserCancellation, "stream cancelled by consumer", nil)
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
