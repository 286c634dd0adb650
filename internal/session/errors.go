package session

import "errors"

// ErrAckTimeout is wrapped in a ConnectivityError when no acknowledgement
// arrives within the idle window.
var ErrAckTimeout = errors.New("timed out waiting for acknowledgement")

// AuthError means the remote side rejected the credentials. Never retried
// automatically.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// ProtocolError means the remote side rejected a request or replied with
// something the client cannot interpret.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// ConnectivityError means the connection could not be established or died
// mid-conversation.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return "connection error: " + e.Err.Error()
}

func (e *ConnectivityError) Unwrap() error { return e.Err }
