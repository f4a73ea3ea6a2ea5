package resolver

import "fmt"

// Code classifies a resolution failure so the tool layer can pick a
// user-facing rendering without string matching.
type Code string

const (
	CodeServerNotFound            Code = "ServerNotFound"
	CodeServerNotRunning          Code = "ServerNotRunning"
	CodeNoActiveConnection        Code = "NoActiveConnection"
	CodeConnectionFailed          Code = "ConnectionFailed"
	CodeUnsupportedConnectionKind Code = "UnsupportedConnectionKind"
)

// Error is a structured resolution failure. It is always returned, never
// panicked, so callers can surface Message and Hint directly.
type Error struct {
	Code    Code
	Message string
	Details string
	// Hint directs the operator to a recovery action, when one exists.
	Hint string
}

func (e *Error) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Details)
}
