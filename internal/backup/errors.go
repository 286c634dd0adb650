package backup

import (
	"context"
	"errors"

	"github.com/commkeep/commkeep/internal/session"
)

// ErrKind classifies a run-level failure.
type ErrKind int

const (
	KindInternal ErrKind = iota
	KindAuth
	KindConnectivity
	KindProtocol
	KindFormat
	KindIO
	KindCancelled
)

func (k ErrKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindConnectivity:
		return "connectivity"
	case KindProtocol:
		return "protocol"
	case KindFormat:
		return "format"
	case KindIO:
		return "io"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is a classified run failure.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps transport-level errors onto the run taxonomy.
func classify(err error) ErrKind {
	var authErr *session.AuthError
	var protoErr *session.ProtocolError
	var connErr *session.ConnectivityError

	switch {
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &connErr):
		return KindConnectivity
	case errors.As(err, &protoErr):
		return KindProtocol
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

func wrap(msg string, err error) *Error {
	return &Error{Kind: classify(err), Msg: msg, Err: err}
}
