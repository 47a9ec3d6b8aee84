// Package client implements the broker's pub/sub wire protocol from the
// caller's side: a BlockingClient for strictly serialized request/response
// use, and an AsyncClient that correlates interleaved requests to their
// responses by request id so many publishes/consumes can be in flight on
// one connection at once.
package client

import (
	"fmt"

	"github.com/sawpanic/pulsarbroker/internal/ids"
)

// ErrorKind classifies what went wrong with a client call, mirroring the
// source's ClientError enum.
type ErrorKind int

const (
	ErrNotConnected ErrorKind = iota
	ErrIncompatibleVersion
	ErrVersionNotSupported
	ErrSendError
	ErrBadOutcome
	ErrNoData
	ErrIncorrectResponseType
	ErrIncorrectNode
	ErrDeserializeError
	ErrRecvError
	ErrServer
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotConnected:
		return "not_connected"
	case ErrIncompatibleVersion:
		return "incompatible_version"
	case ErrVersionNotSupported:
		return "version_not_supported"
	case ErrSendError:
		return "send_error"
	case ErrBadOutcome:
		return "bad_outcome"
	case ErrNoData:
		return "no_data"
	case ErrIncorrectResponseType:
		return "incorrect_response_type"
	case ErrIncorrectNode:
		return "incorrect_node"
	case ErrDeserializeError:
		return "deserialize_error"
	case ErrRecvError:
		return "recv_error"
	case ErrServer:
		return "server_error"
	default:
		return "unknown"
	}
}

// Error is the single error type every client call can fail with.
// Kind==ErrServer carries the broker's own error message and code (see
// wire.Outcome); every other kind is purely client-side.
type Error struct {
	Kind    ErrorKind
	Message string
	Code    ids.ErrorCode
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: %s", e.Kind)
	}
	return fmt.Sprintf("client: %s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
