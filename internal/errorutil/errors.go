// Package errorutil provides error helpers shared by the module packages.
package errorutil

//go:generate errtrace -w .

import (
	"errors"
	"fmt"
)

// Error is a constant error.
type Error string

func (s Error) Error() string { return string(s) }

// NewWrapperError attaches sentinel to a cause.
//
// The cause is taken from args: an error is wrapped as is, a string is used
// as a message, and a format string with arguments is formatted first.
// Without a usable cause the sentinel itself is returned.
func NewWrapperError(sentinel error, args ...any) error {
	if len(args) == 0 {
		return sentinel //errtrace:skip
	}
	if err, ok := args[0].(error); ok {
		if errors.Is(err, sentinel) {
			return err //errtrace:skip
		}
		return fmt.Errorf("%w: %w", sentinel, err) //errtrace:skip
	}
	format, ok := args[0].(string)
	if !ok {
		return sentinel //errtrace:skip
	}
	msg := format
	if len(args) > 1 {
		msg = fmt.Sprintf(format, args[1:]...)
	}
	return fmt.Errorf("%w: %s", sentinel, msg) //errtrace:skip
}

// ErrInvalidArgument reports a bad argument passed to a public function.
const ErrInvalidArgument Error = "invalid argument"

// NewInvalidArgumentError wraps args with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return NewWrapperError(ErrInvalidArgument, args...) //errtrace:skip
}
