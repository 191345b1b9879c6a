package sip

import "github.com/ghettovoice/sipedge/internal/errorutil"

// Common errors.
const (
	ErrInvalidArgument = errorutil.ErrInvalidArgument
)

// Response building errors.
const (
	ErrInvalidContact      Error = "invalid contact"
	ErrInvalidContentType  Error = "invalid content type"
	ErrInvalidRequire      Error = "invalid require"
	ErrInvalidReason       Error = "invalid reason"
	ErrInvalidServiceRoute Error = "invalid service route"
)

// Message errors.
const (
	ErrInvalidMessage  Error = "invalid message"
	ErrMessageTooLarge Error = "message too large"
)

// Transport errors.
const (
	// ErrTransportClosed is returned when attempting to use a closed transport.
	ErrTransportClosed Error = "transport closed"
	// ErrAddrFamilyMismatch is returned when the remote address family differs
	// from the family of the listening socket.
	ErrAddrFamilyMismatch Error = "address family mismatch"
	// ErrSTUNTimeout is returned when a STUN binding request was not answered.
	ErrSTUNTimeout Error = "stun binding timed out"
)

// Connection close reasons passed to [OnConnClosedFunc].
const (
	ErrConnTimedOut      Error = "connection timed out"
	ErrKeepaliveFailed   Error = "keepalive failed"
	ErrMappedAddrChanged Error = "mapped address changed"
)

// Error represents a SIP error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

func wrapError(sentinel Error, args ...any) error {
	return errorutil.NewWrapperError(sentinel, args...) //errtrace:skip
}
